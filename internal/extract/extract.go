// Package extract derives a task outcome from free-text stream content.
//
// Streaming providers answer in prose or markdown rather than structured
// fields, so the result URL, a policy rejection, or a character handle has to
// be pattern-matched out of the accumulated text. Everything here is pure.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/makeasinger/mediagen/internal/apperr"
)

const defaultViolationReason = "content policy violation"

var (
	videoTagRe = regexp.MustCompile(`(?i)<video[^>]*\s+src=['"]([^'"]+)['"][^>]*>`)
	bareURLRe  = regexp.MustCompile(`https?://[^\s"'<>]+`)

	violationRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)sora_content_violation`),
		regexp.MustCompile(`(?i)content_violation`),
		regexp.MustCompile(`(?i)do not support.*photorealistic people`),
		regexp.MustCompile(`(?i)violat(e|ion|ing)`),
		regexp.MustCompile(`(?i)"kind"\s*:\s*"sora_`),
	}
	reasonRe         = regexp.MustCompile(`"reason_str"\s*:\s*"([^"]+)"`)
	markdownReasonRe = regexp.MustCompile(`"markdown_reason_str"\s*:\s*"([^"]+)"`)

	namePromptRe = regexp.MustCompile(`角色名\s*@(\w+)`)
	nameParenRe  = regexp.MustCompile(`\(@(\w+)\)`)
	nameLooseRe  = regexp.MustCompile(`@(\w+)`)
)

// StripCodeFence removes a leading ```lang line and a trailing ``` fence.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i != -1 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(s, "```")
}

// VideoURL returns the src of the first <video> tag, else the first bare
// http(s) URL, else "".
func VideoURL(s string) string {
	if s == "" {
		return ""
	}
	clean := StripCodeFence(s)
	if m := videoTagRe.FindStringSubmatch(clean); m != nil {
		return m[1]
	}
	return bareURLRe.FindString(clean)
}

// Violation reports whether s carries a content-policy rejection and the best
// reason it embeds.
func Violation(s string) (string, bool) {
	for _, re := range violationRes {
		if !re.MatchString(s) {
			continue
		}
		if m := reasonRe.FindStringSubmatch(s); m != nil {
			return m[1], true
		}
		if m := markdownReasonRe.FindStringSubmatch(s); m != nil {
			return m[1], true
		}
		return defaultViolationReason, true
	}
	return "", false
}

// Outcome is the resolution of accumulated content. Exactly one of URL and Err
// is set once the content is decisive; both are empty while undecided.
type Outcome struct {
	URL string
	Err error
}

// Decided reports whether the content yields a terminal outcome.
func (o Outcome) Decided() bool { return o.URL != "" || o.Err != nil }

// Resolve decides content. A violation always wins over a URL. When finished
// is true and no URL is present the outcome is a provider failure.
func Resolve(content string, finished bool) Outcome {
	if reason, ok := Violation(content); ok {
		return Outcome{Err: &apperr.ContentPolicyError{Reason: reason}}
	}
	if url := VideoURL(content); url != "" {
		return Outcome{URL: url}
	}
	if finished {
		return Outcome{Err: apperr.Provider("sora", 0, "no result url in response: "+head(content, 200))}
	}
	return Outcome{}
}

// CharacterName finds the character handle in s, without the leading @.
// A "角色名@id" prompt wins over "(@id)", which wins over the last loose @id.
func CharacterName(s string) string {
	if m := namePromptRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	if m := nameParenRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	all := nameLooseRe.FindAllStringSubmatch(s, -1)
	if len(all) == 0 {
		return ""
	}
	return all[len(all)-1][1]
}

func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Accumulator collects stream deltas and forwards each to an optional emit
// callback for live progress display. Not safe for concurrent use.
type Accumulator struct {
	buf      strings.Builder
	finished bool
	emit     func(delta string)
}

func NewAccumulator(emit func(delta string)) *Accumulator {
	return &Accumulator{emit: emit}
}

func (a *Accumulator) Add(delta string) {
	if delta == "" {
		return
	}
	a.buf.WriteString(delta)
	if a.emit != nil {
		a.emit(delta)
	}
}

// Finish records the stream's normal-completion token.
func (a *Accumulator) Finish() { a.finished = true }

func (a *Accumulator) Finished() bool { return a.finished }

func (a *Accumulator) Content() string { return a.buf.String() }

func (a *Accumulator) Resolve() Outcome {
	return Resolve(a.buf.String(), a.finished)
}

var progressRe = regexp.MustCompile(`(\d{1,3})(?:\.\d+)?\s*%`)

// Progress returns the last percentage mentioned in s, if any.
func Progress(s string) (int, bool) {
	all := progressRe.FindAllStringSubmatch(s, -1)
	if len(all) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(all[len(all)-1][1])
	if err != nil || n > 100 {
		return 0, false
	}
	return n, true
}
