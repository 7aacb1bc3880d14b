package messenger

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"collab-messenger/model"
)

const maxEmojiBytes = 32

func validateContent(content string, max int) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("empty content: %w", model.ErrValidation)
	}
	if !utf8.ValidString(content) {
		return "", fmt.Errorf("content is not utf-8: %w", model.ErrValidation)
	}
	if n := utf8.RuneCountInString(content); max > 0 && n > max {
		return "", fmt.Errorf("content has %d characters, limit is %d: %w", n, max, model.ErrValidation)
	}
	return content, nil
}

func validateEmoji(emoji string) error {
	if emoji == "" || len(emoji) > maxEmojiBytes || !utf8.ValidString(emoji) {
		return fmt.Errorf("malformed emoji %q: %w", emoji, model.ErrValidation)
	}
	if strings.IndexFunc(emoji, unicode.IsSpace) >= 0 {
		return fmt.Errorf("malformed emoji %q: %w", emoji, model.ErrValidation)
	}
	return nil
}
