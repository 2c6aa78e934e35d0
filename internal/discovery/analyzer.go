// Package discovery ranks Kafka topics by how useful they are as fraud
// scoring inputs.
package discovery

import (
	"fmt"
	"slices"
	"strings"
)

type BusinessValue string

const (
	ValueCritical  BusinessValue = "CRITICAL"
	ValueImportant BusinessValue = "IMPORTANT"
	ValueOptional  BusinessValue = "OPTIONAL"
)

const (
	scoreKeyword        = 10
	scoreHighPriority   = 20
	scoreHighVolume     = 15
	scoreMediumVolume   = 10
	scoreLowVolume      = 5
	highVolumeRecords   = 1_000_000
	mediumVolumeRecords = 100_000
	lowVolumeRecords    = 1_000
	criticalThreshold   = 30
	importantThreshold  = 15
)

var (
	fraudKeywords = []string{
		"transaction", "payment", "card", "credit", "debit", "paypal",
		"merchant", "customer", "spend", "loan", "financial",
	}
	highPriorityPatterns = []string{"transaction", "payment", "card", "fraud"}
)

type TopicStat struct {
	Name        string `json:"name"`
	RecordCount int64  `json:"record_count"`
}

type TopicRelevance struct {
	Topic         string        `json:"topic"`
	Score         int           `json:"relevance_score"`
	RecordCount   int64         `json:"record_count"`
	Reasons       []string      `json:"reasons"`
	BusinessValue BusinessValue `json:"business_value"`
}

func Analyze(topic TopicStat) TopicRelevance {
	name := strings.ToLower(topic.Name)
	score := 0
	var reasons []string

	for _, keyword := range fraudKeywords {
		if strings.Contains(name, keyword) {
			score += scoreKeyword
			reasons = append(reasons, fmt.Sprintf("Contains '%s'", keyword))
		}
	}

	for _, pattern := range highPriorityPatterns {
		if strings.Contains(name, pattern) {
			score += scoreHighPriority
			reasons = append(reasons, fmt.Sprintf("High-priority pattern '%s'", pattern))
		}
	}

	switch {
	case topic.RecordCount > highVolumeRecords:
		score += scoreHighVolume
		reasons = append(reasons, "High volume data")
	case topic.RecordCount > mediumVolumeRecords:
		score += scoreMediumVolume
		reasons = append(reasons, "Medium volume data")
	case topic.RecordCount > lowVolumeRecords:
		score += scoreLowVolume
		reasons = append(reasons, "Low volume data")
	}

	return TopicRelevance{
		Topic:         topic.Name,
		Score:         score,
		RecordCount:   topic.RecordCount,
		Reasons:       reasons,
		BusinessValue: valueFor(score),
	}
}

func valueFor(score int) BusinessValue {
	switch {
	case score >= criticalThreshold:
		return ValueCritical
	case score >= importantThreshold:
		return ValueImportant
	default:
		return ValueOptional
	}
}

// Rank sorts by score, highest first. Ties keep input order.
func Rank(topics []TopicStat) []TopicRelevance {
	ranked := make([]TopicRelevance, 0, len(topics))
	for _, t := range topics {
		ranked = append(ranked, Analyze(t))
	}
	slices.SortStableFunc(ranked, func(a, b TopicRelevance) int {
		return b.Score - a.Score
	})
	return ranked
}

// TopTopics returns up to limit names from the head of the ranking, keeping
// only CRITICAL and IMPORTANT topics.
func TopTopics(topics []TopicStat, limit int) []string {
	ranked := Rank(topics)
	if limit < len(ranked) {
		ranked = ranked[:limit]
	}

	var names []string
	for _, r := range ranked {
		if r.BusinessValue == ValueCritical || r.BusinessValue == ValueImportant {
			names = append(names, r.Topic)
		}
	}
	return names
}
