package taskclient

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/spf13/cast"
)

var placeholder = regexp.MustCompile(`\{\{\s*(\d+)\s*\}\}`)

func placeholderIndexes(template string) []int {
	matches := placeholder.FindAllStringSubmatch(template, -1)
	indexes := make([]int, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		indexes = append(indexes, n)
	}
	return indexes
}

// Render substitutes the positional references of step with values from
// input. A reference to a field missing from input renders as an empty
// string.
func Render(step Step, input ExecutionRequest) (string, error) {
	var renderErr error
	out := placeholder.ReplaceAllStringFunc(step.Template, func(match string) string {
		sub := placeholder.FindStringSubmatch(match)
		n, err := strconv.Atoi(sub[1])
		if err != nil || n >= len(step.Inputs) {
			if renderErr == nil {
				renderErr = fmt.Errorf("template references unknown input %s", match)
			}
			return ""
		}
		value, ok := input[step.Inputs[n]]
		if !ok {
			return ""
		}
		return cast.ToString(value)
	})
	if renderErr != nil {
		return "", renderErr
	}
	return out, nil
}
