package agent

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/nuwa-labs/nuwa/internal/llm"
)

// imageMarker matches inline image references like [image:/path/to/a.png]
// or <image:/path/to/a.png>.
var imageMarker = regexp.MustCompile(`[\[<]image:([^\]>]+)[\]>]`)

// BuildUserMessage turns raw user input into a message. When multimodal is
// enabled and the input carries image markers, the referenced files become
// image parts and the markers are stripped from the text. A missing file
// degrades to a text warning instead of failing the turn.
func BuildUserMessage(input string, multimodal bool) llm.Message {
	if !multimodal || !imageMarker.MatchString(input) {
		return llm.TextMessage(llm.RoleUser, input)
	}

	var images []string
	var warnings []string
	for _, match := range imageMarker.FindAllStringSubmatch(input, -1) {
		path := strings.TrimSpace(match[1])
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			warnings = append(warnings, fmt.Sprintf("[注意: 图片文件不存在: %s]", path))
			continue
		}
		images = append(images, path)
	}

	text := strings.TrimSpace(imageMarker.ReplaceAllString(input, ""))
	if len(warnings) > 0 {
		text = strings.TrimSpace(text + "\n" + strings.Join(warnings, "\n"))
	}

	if len(images) == 0 {
		return llm.TextMessage(llm.RoleUser, text)
	}

	parts := make([]llm.ContentPart, 0, 1+len(images))
	if text != "" {
		parts = append(parts, llm.ContentPart{Type: "text", Text: text})
	}
	for _, path := range images {
		parts = append(parts, llm.ContentPart{Type: "image", ImageURL: path})
	}

	return llm.Message{
		Role:    llm.RoleUser,
		Content: text,
		Parts:   parts,
	}
}
