package recurrence

import (
	"fmt"
	"strings"

	"github.com/teambition/rrule-go"
)

var toRRuleFrequency = map[Frequency]rrule.Frequency{
	FrequencyDaily:   rrule.DAILY,
	FrequencyWeekly:  rrule.WEEKLY,
	FrequencyMonthly: rrule.MONTHLY,
	FrequencyYearly:  rrule.YEARLY,
}

// ParseRRule converts an RFC 5545 RRULE value such as
// "FREQ=WEEKLY;INTERVAL=2;UNTIL=20080505T000000Z" into a Rule. Only FREQ,
// INTERVAL, COUNT and UNTIL are accepted.
func ParseRRule(value string) (Rule, error) {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "RRULE:")
	upper := strings.ToUpper(value)
	if !strings.Contains(upper, "FREQ=") {
		return Rule{}, fmt.Errorf("%w: FREQ is required", ErrInvalidRule)
	}

	opt, err := rrule.StrToROption(value)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if hasByParts(opt) {
		return Rule{}, fmt.Errorf("%w: BY* parts are not supported", ErrInvalidRule)
	}

	rule := Rule{Frequency: FrequencyUnspecified, Interval: opt.Interval, Count: opt.Count}
	for freq, rf := range toRRuleFrequency {
		if rf == opt.Freq {
			rule.Frequency = freq
		}
	}
	if rule.Frequency == FrequencyUnspecified {
		return Rule{}, fmt.Errorf("%w: unsupported frequency %v", ErrInvalidRule, opt.Freq)
	}
	if rule.Interval == 0 && !strings.Contains(upper, "INTERVAL=") {
		rule.Interval = 1
	}
	if !opt.Until.IsZero() {
		until := opt.Until
		rule.Until = &until
	}

	if err := rule.Validate(); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// FormatRRule renders a rule as an RRULE value without the "RRULE:" prefix.
func FormatRRule(rule Rule) (string, error) {
	if err := rule.Validate(); err != nil {
		return "", err
	}
	opt := rrule.ROption{
		Freq:     toRRuleFrequency[rule.Frequency],
		Interval: rule.Interval,
		Count:    rule.Count,
	}
	if rule.Until != nil {
		opt.Until = *rule.Until
	}
	return opt.RRuleString(), nil
}

func hasByParts(opt *rrule.ROption) bool {
	return len(opt.Bysetpos)+len(opt.Bymonth)+len(opt.Bymonthday)+len(opt.Byyearday)+
		len(opt.Byweekno)+len(opt.Byweekday)+len(opt.Byhour)+len(opt.Byminute)+
		len(opt.Bysecond)+len(opt.Byeaster) > 0
}
