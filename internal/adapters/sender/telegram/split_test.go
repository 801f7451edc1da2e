package telegram

import (
	"strings"
	"testing"
)

func TestSplitMessageShortText(t *testing.T) {
	parts := splitMessage("  короткий текст  ")
	if len(parts) != 1 || parts[0] != "короткий текст" {
		t.Fatalf("короткий текст должен уходить одним сообщением: %#v", parts)
	}
}

func TestSplitMessageEmpty(t *testing.T) {
	if parts := splitMessage("   \n  "); parts != nil {
		t.Fatalf("пустой текст не должен давать сообщений: %#v", parts)
	}
}

func TestSplitMessageRespectsLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 300; i++ {
		b.WriteString("строка с достаточно длинным содержимым номер раз\n")
	}

	parts := splitMessage(b.String())
	if len(parts) < 2 {
		t.Fatalf("длинный текст должен резаться: %d частей", len(parts))
	}
	for i, part := range parts {
		if n := len([]rune(part)); n > messageLimit {
			t.Fatalf("часть %d длиннее лимита: %d", i, n)
		}
		if part == "" {
			t.Fatalf("часть %d пустая", i)
		}
	}
}

func TestSplitMessagePrefersLineBoundaries(t *testing.T) {
	line := strings.Repeat("а", 100)
	var b strings.Builder
	for i := 0; i < 120; i++ {
		b.WriteString(line + "\n")
	}

	for i, part := range splitMessage(b.String()) {
		if strings.Contains(part, "\n\n") {
			t.Fatalf("часть %d содержит рваные блоки", i)
		}
		for _, got := range strings.Split(part, "\n") {
			if got != line {
				t.Fatalf("строка порвана не по границе: %q", got)
			}
		}
	}
}

func TestSplitMessageNoBoundary(t *testing.T) {
	solid := strings.Repeat("б", messageLimit+500)
	parts := splitMessage(solid)
	if len(parts) != 2 {
		t.Fatalf("сплошной текст должен резаться жёстко: %d частей", len(parts))
	}
	if len([]rune(parts[0])) != messageLimit {
		t.Fatalf("первая часть должна быть ровно в лимит: %d", len([]rune(parts[0])))
	}
}
