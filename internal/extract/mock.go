package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var (
	namePattern       = regexp.MustCompile(`(?i)\bmy name is ([A-Za-z][A-Za-z'-]*)`)
	koreanNamePattern = regexp.MustCompile(`내 이름은\s*(\S+)`)
	preferPattern     = regexp.MustCompile(`(?i)\bi prefer ([^.!?\n]+)`)
	painPattern       = regexp.MustCompile(`(?i)\b(?:annoyed|frustrated|unhappy|disappointed) (?:by|about|with) ([^.!?\n]+)`)

	// Branch names the demo corpus talks about, with Korean aliases
	// normalized to their roman form. Ordered so a text mentioning two
	// branches always resolves the same way.
	branchAliases = []struct {
		alias  string
		branch string
	}{
		{"gangnam", "Gangnam"}, {"강남", "Gangnam"},
		{"busan", "Busan"}, {"부산", "Busan"},
		{"seoul", "Seoul"}, {"서울", "Seoul"},
		{"daejeon", "Daejeon"}, {"대전", "Daejeon"},
	}

	koreanNameSuffixes = []string{"이야", "이에요", "입니다", "예요", "야"}
)

// MockGateway is a deterministic rule-based extractor. It stands in for the
// LLM in auto mode when no endpoint is configured, and gives tests stable
// extraction results.
type MockGateway struct{}

func NewMockGateway() *MockGateway { return &MockGateway{} }

func (g *MockGateway) Extract(ctx context.Context, req Request) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	var prefs Preferences
	for _, turn := range req.History {
		text := turn.User

		if prefs.Name == nil {
			if m := namePattern.FindStringSubmatch(text); len(m) == 2 {
				name := strings.TrimSpace(m[1])
				prefs.Name = &name
			} else if m := koreanNamePattern.FindStringSubmatch(text); len(m) == 2 {
				name := trimKoreanNameSuffix(m[1])
				if name != "" {
					prefs.Name = &name
				}
			}
		}

		if branch := matchBranch(text); branch != "" {
			prefs.PreferredBranch = &branch
		}

		if m := preferPattern.FindStringSubmatch(text); len(m) == 2 {
			service := strings.TrimSpace(strings.Trim(m[1], " .,"))
			if service != "" {
				prefs.ServicePreference = &service
			}
		}

		for _, m := range painPattern.FindAllStringSubmatch(text, -1) {
			point := strings.TrimSpace(strings.Trim(m[1], " .,"))
			if point != "" && !containsString(prefs.PainPoints, point) {
				prefs.PainPoints = append(prefs.PainPoints, point)
			}
		}
	}

	return Result{
		Summary:     buildSummary(len(req.History), prefs),
		Preferences: prefs,
	}, nil
}

func matchBranch(text string) string {
	lower := strings.ToLower(text)
	for _, entry := range branchAliases {
		if strings.Contains(lower, entry.alias) {
			return entry.branch
		}
	}
	return ""
}

func trimKoreanNameSuffix(raw string) string {
	name := strings.Trim(raw, " .,!?")
	for _, suffix := range koreanNameSuffixes {
		if trimmed, ok := strings.CutSuffix(name, suffix); ok && trimmed != "" {
			return trimmed
		}
	}
	return name
}

func buildSummary(turnCount int, prefs Preferences) string {
	facts := make([]string, 0, 3)
	if prefs.Name != nil {
		facts = append(facts, "name="+*prefs.Name)
	}
	if prefs.PreferredBranch != nil {
		facts = append(facts, "preferred_branch="+*prefs.PreferredBranch)
	}
	if prefs.ServicePreference != nil {
		facts = append(facts, "service_preference="+*prefs.ServicePreference)
	}

	if len(facts) == 0 {
		return fmt.Sprintf("Conversation of %d turns; no durable facts captured.", turnCount)
	}
	return fmt.Sprintf("Conversation of %d turns; captured %s.", turnCount, strings.Join(facts, ", "))
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
