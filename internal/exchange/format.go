package exchange

import "strings"

const turnSeparator = "<br><br>"

// Formatter converts between the stored display form of prompts and replies
// and the plain text sent to a model.
type Formatter interface {
	Display(text string) string
	Plain(text string) string
}

// HTMLBreaks stores line breaks as <br>
type HTMLBreaks struct{}

func (HTMLBreaks) Display(text string) string {
	return strings.ReplaceAll(text, "\n", "<br>")
}

func (HTMLBreaks) Plain(text string) string {
	return strings.ReplaceAll(text, "<br>", "\n")
}

// continuedPrompt appends the last reply and the new text to the stored
// prompt, keeping only the tail when a context limit is set.
func (s *Service) continuedPrompt(prompt, reply, text string) string {
	out := prompt + turnSeparator + reply + turnSeparator + text
	if limit := s.opts.MaxContextChars; limit > 0 {
		runes := []rune(out)
		if len(runes) > limit {
			out = string(runes[len(runes)-limit:])
		}
	}
	return out
}
