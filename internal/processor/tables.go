package processor

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Lookup tables are ordered slices: the first matching entry wins, so
// reordering them changes results.

type merchantCategory struct {
	keyword  string
	category string
}

var merchantCategories = []merchantCategory{
	{"shell", "Gas"},
	{"chevron", "Gas"},
	{"whole foods", "Groceries"},
	{"walmart", "Shopping"},
	{"home depot", "Home Improvement"},
	{"best buy", "Electronics"},
	{"mcdonald", "Dining"},
	{"nike", "Clothing"},
	{"macy", "Clothing"},
	{"nordstrom", "Clothing"},
	{"costco", "Shopping"},
	{"apple store", "Electronics"},
	{"starbucks", "Dining"},
	{"target", "Shopping"},
	{"amazon", "Shopping"},
}

type geoPair struct {
	city  string
	state string
}

var geoDenylist = []geoPair{
	{"Los Angeles", "PA"},
	{"Los Angeles", "TX"},
	{"Phoenix", "OH"},
	{"San Diego", "TX"},
	{"San Diego", "OH"},
	{"New York", "FL"},
	{"Philadelphia", "FL"},
	{"Philadelphia", "AZ"},
	{"Chicago", "AZ"},
	{"Dallas", "CA"},
	{"San Jose", "IL"},
	{"Houston", "NC"},
}

type categoryCap struct {
	category string
	cap      decimal.Decimal
}

var categoryCaps = []categoryCap{
	{"Gas", decimal.NewFromInt(125)},
	{"Clothing", decimal.NewFromInt(400)},
	{"Groceries", decimal.NewFromInt(350)},
	{"Entertainment", decimal.NewFromInt(300)},
	{"Travel", decimal.NewFromInt(250)},
	{"Home Improvement", decimal.NewFromInt(350)},
	{"Dining", decimal.NewFromInt(120)},
	{"Shopping", decimal.NewFromInt(400)},
	{"Healthcare", decimal.NewFromInt(300)},
}

var (
	defaultCategoryCap = decimal.NewFromInt(300)
	absoluteCeiling    = decimal.NewFromInt(1000)
)

// expectedCategory returns the category implied by the merchant name.
// merchant must already be lowercased.
func expectedCategory(merchant string) (string, bool) {
	for _, entry := range merchantCategories {
		if strings.Contains(merchant, entry.keyword) {
			return entry.category, true
		}
	}
	return "", false
}

func isDeniedLocation(city, state string) bool {
	for _, pair := range geoDenylist {
		if pair.city == city && pair.state == state {
			return true
		}
	}
	return false
}

func capForCategory(category string) decimal.Decimal {
	for _, entry := range categoryCaps {
		if entry.category == category {
			return entry.cap
		}
	}
	return defaultCategoryCap
}
