package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"golang.org/x/term"

	"krishi/internal/assistant"
	krishierrors "krishi/internal/errors"
	"krishi/internal/geo"
	"krishi/internal/market"
	"krishi/internal/session"
	"krishi/internal/weather"
)

// isTTY reports whether stdout is an interactive terminal.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

var cardStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("35")).
	Padding(0, 1)

// printer writes command results. Markdown is rendered only on a terminal.
type printer struct {
	out      io.Writer
	markdown *glamour.TermRenderer
	styled   bool
}

func newPrinter(out io.Writer, styled bool) *printer {
	p := &printer{out: out, styled: styled}
	if !styled {
		return p
	}
	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = min(w-4, 120)
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
		glamour.WithEmoji(),
	)
	if err == nil {
		p.markdown = renderer
	}
	return p
}

func (p *printer) renderMarkdown(text string) string {
	if p.markdown == nil || strings.TrimSpace(text) == "" {
		return text + "\n"
	}
	rendered, err := p.markdown.Render(text)
	if err != nil {
		return text + "\n"
	}
	return rendered
}

func (p *printer) card(text string) string {
	if !p.styled {
		return text + "\n"
	}
	return cardStyle.Render(text) + "\n"
}

func (p *printer) failure(err error) {
	kind := krishierrors.KindOf(err)
	fmt.Fprintf(p.out, "%s %s\n", red("✗"), krishierrors.FormatForUser(err))
	fmt.Fprintf(p.out, "  %s\n", gray(fmt.Sprintf("%s: %v", kind, err)))
}

func (p *printer) chatReply(reply assistant.ChatReply) {
	fmt.Fprint(p.out, p.renderMarkdown(reply.Reply))
	fmt.Fprintln(p.out, gray(reply.ActionID))
}

func (p *printer) diagnosis(result assistant.DiagnosisResult) {
	pred := result.Prediction
	if pred.Healthy {
		fmt.Fprintf(p.out, "%s %s looks healthy", green("✓"), bold(orUnknown(pred.Crop)))
	} else {
		fmt.Fprintf(p.out, "%s %s: %s", yellow("!"), bold(orUnknown(pred.Crop)), bold(pred.Disease))
	}
	if pred.Confidence > 0 {
		fmt.Fprintf(p.out, " %s", gray(fmt.Sprintf("(%.0f%%)", pred.Confidence*100)))
	}
	fmt.Fprintln(p.out)

	advice := result.Advice
	if advice == nil {
		return
	}
	var md strings.Builder
	if advice.Cause != "" {
		fmt.Fprintf(&md, "**Cause:** %s\n\n", advice.Cause)
	}
	writeList(&md, "Symptoms", advice.Symptoms)
	writeList(&md, "Treatment", advice.Treatment)
	writeList(&md, "Prevention", advice.Prevention)
	fmt.Fprint(p.out, p.renderMarkdown(md.String()))
}

func writeList(md *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(md, "### %s\n\n", title)
	for _, item := range items {
		fmt.Fprintf(md, "- %s\n", item)
	}
	md.WriteString("\n")
}

func (p *printer) marketByPrice(records []market.Record) {
	w := tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MARKET\tDISTRICT\tCOMMODITY\tMODAL\tMIN\tMAX\tDATE")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Market, r.District, commodity(r), green(r.ModalPrice), r.MinPrice, r.MaxPrice, r.ArrivalDate)
	}
	_ = w.Flush()
}

func (p *printer) marketByDistance(ranked []geo.Ranked[market.Record]) {
	w := tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MARKET\tDISTRICT\tCOMMODITY\tMODAL\tDISTANCE")
	for _, r := range ranked {
		distance := gray("unknown")
		if r.HasDistance() {
			distance = cyan(fmt.Sprintf("%.1f km", r.DistanceKm))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.Record.Market, r.Record.District, commodity(r.Record), green(r.Record.ModalPrice), distance)
	}
	_ = w.Flush()
}

func (p *printer) weather(snapshot weather.Snapshot) {
	var b strings.Builder
	c := snapshot.Current
	if c.Place != "" {
		fmt.Fprintf(&b, "%s\n", bold(c.Place))
	}
	fmt.Fprintf(&b, "%s", snapshot.Summary())
	for i, slot := range snapshot.Forecast {
		if i == 4 {
			break
		}
		fmt.Fprintf(&b, "\n%s  %.1f°C  %s", slot.Time.Format("Mon 15:04"), slot.TempC, slot.Description)
	}
	fmt.Fprint(p.out, p.card(b.String()))
}

func (p *printer) location(loc session.Location) {
	place := loc.Place
	if place == "" {
		place = "Unnamed place"
	}
	fmt.Fprintf(p.out, "%s %s %s\n", green("📍"), bold(place),
		gray(fmt.Sprintf("(%.4f, %.4f)", loc.Point.Lat, loc.Point.Lon)))
}

func commodity(r market.Record) string {
	if r.Variety == "" || strings.EqualFold(r.Variety, "other") {
		return r.Commodity
	}
	return r.Commodity + " (" + r.Variety + ")"
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Plant"
	}
	return s
}
