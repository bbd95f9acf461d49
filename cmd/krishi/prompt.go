package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chzyer/readline"
	"golang.org/x/term"
)

// lineReader yields one question per call and io.EOF when the farmer is done.
type lineReader interface {
	ReadLine() (string, error)
	Close() error
}

// newLineReader uses readline (history, line editing) when questions come
// from an interactive terminal and a plain scanner otherwise.
func newLineReader(in io.Reader, out io.Writer, prompt string) (lineReader, error) {
	if f, ok := in.(*os.File); ok && f == os.Stdin && term.IsTerminal(int(f.Fd())) {
		config := &readline.Config{
			Prompt:            prompt,
			InterruptPrompt:   "^C",
			EOFPrompt:         "exit",
			HistorySearchFold: true,
			UniqueEditLine:    true,
			Stdin:             readline.NewCancelableStdin(os.Stdin),
			Stdout:            out,
			Stderr:            os.Stderr,
		}
		if home, err := os.UserHomeDir(); err == nil {
			config.HistoryFile = filepath.Join(home, ".krishi", "chat_history")
			_ = os.MkdirAll(filepath.Dir(config.HistoryFile), 0o755)
		}
		rl, err := readline.NewEx(config)
		if err != nil {
			return nil, fmt.Errorf("init readline: %w", err)
		}
		return &terminalReader{rl: rl}, nil
	}
	return &scannerReader{scanner: bufio.NewScanner(in), out: out, prompt: prompt}, nil
}

type terminalReader struct {
	rl *readline.Instance
}

func (r *terminalReader) ReadLine() (string, error) {
	for {
		line, err := r.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return "", io.EOF
			}
			continue
		}
		return line, err
	}
}

func (r *terminalReader) Close() error {
	return r.rl.Close()
}

type scannerReader struct {
	scanner *bufio.Scanner
	out     io.Writer
	prompt  string
}

func (r *scannerReader) ReadLine() (string, error) {
	fmt.Fprint(r.out, r.prompt)
	if !r.scanner.Scan() {
		fmt.Fprintln(r.out)
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

func (r *scannerReader) Close() error { return nil }
