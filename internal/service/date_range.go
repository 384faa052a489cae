package service

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidRangeType      = errors.New("invalid range type")
	ErrCustomRangeIncomplete = errors.New("custom range requires start and end dates")
	ErrInvalidRange          = errors.New("range start is after range end")
)

// RangeType 描述统计区间的预设类型。
type RangeType string

const (
	RangeDay    RangeType = "DAY"
	RangeWeek   RangeType = "WEEK"
	RangeMonth  RangeType = "MONTH"
	RangeYear   RangeType = "YEAR"
	RangeCustom RangeType = "CUSTOM"
)

// ParseRangeType 不区分大小写；空字符串视为 MONTH。
func ParseRangeType(raw string) (RangeType, error) {
	value := RangeType(strings.ToUpper(strings.TrimSpace(raw)))
	if value == "" {
		return RangeMonth, nil
	}
	switch value {
	case RangeDay, RangeWeek, RangeMonth, RangeYear, RangeCustom:
		return value, nil
	}
	return "", ErrInvalidRangeType
}

// DateRange is a resolved, inclusive [Start, End] window.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ResolveRange 将预设或自定义区间换算为具体的起止时间，所有预设都以 now 为基准，
// 结束时间默认为 now 当天的 23:59:59.999。
func ResolveRange(now time.Time, rangeType RangeType, customStart, customEnd *time.Time) (DateRange, error) {
	end := endOfDay(now)

	switch rangeType {
	case RangeDay:
		return DateRange{Start: startOfDay(now), End: end}, nil
	case RangeWeek:
		return DateRange{Start: startOfDay(now.AddDate(0, 0, -7)), End: end}, nil
	case RangeMonth:
		return DateRange{Start: startOfDay(now.AddDate(0, -1, 0)), End: end}, nil
	case RangeYear:
		return DateRange{Start: startOfDay(now.AddDate(-1, 0, 0)), End: end}, nil
	case RangeCustom:
		if customStart == nil || customEnd == nil {
			return DateRange{}, ErrCustomRangeIncomplete
		}
		r := DateRange{Start: startOfDay(*customStart), End: endOfDay(*customEnd)}
		if r.Start.After(r.End) {
			return DateRange{}, ErrInvalidRange
		}
		return r, nil
	}

	return DateRange{}, ErrInvalidRangeType
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(999*time.Millisecond), t.Location())
}
