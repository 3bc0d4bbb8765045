package application

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ericfisherdev/mailcode/internal/domain/model"
)

// codePattern matches the first run of 4 to 8 digits not adjacent to another digit.
var codePattern = regexp.MustCompile(`(?:^|\D)(\d{4,8})(?:\D|$)`)

// htmlText strips markup from text/html parts so digits inside attributes,
// styles and scripts never match. A space replaces each stripped tag to keep
// adjacent table cells from merging into one digit run.
var htmlText = func() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return p
}()

// ExtractCode returns the first verification code found in the message's
// snippet followed by every body part in depth-first order. A part whose
// payload cannot be decoded contributes no text.
func ExtractCode(body *model.MessageBody) (string, bool) {
	if body == nil {
		return "", false
	}

	var sb strings.Builder
	sb.WriteString(body.Snippet)
	if body.Payload != nil {
		collectText(&sb, *body.Payload)
	}

	m := codePattern.FindStringSubmatch(sb.String())
	if m == nil {
		return "", false
	}
	return m[1], true
}

func collectText(sb *strings.Builder, part model.MessagePart) {
	if part.Data != "" {
		if decoded, err := decodePartData(part.Data); err == nil {
			text := string(decoded)
			if strings.HasPrefix(part.MimeType, "text/html") {
				text = htmlText.Sanitize(text)
			}
			sb.WriteByte('\n')
			sb.WriteString(text)
		}
	}

	for _, child := range part.Parts {
		collectText(sb, child)
	}
}

// decodePartData decodes base64url payloads with or without padding.
func decodePartData(data string) ([]byte, error) {
	data = strings.TrimSpace(data)
	if len(data)%4 == 0 {
		return base64.URLEncoding.DecodeString(data)
	}
	return base64.RawURLEncoding.DecodeString(data)
}
