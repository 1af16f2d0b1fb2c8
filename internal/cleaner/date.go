package cleaner

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/starschema/pkg/core"
)

// DateOrder selects how an ambiguous NN/NN/YYYY date is read.
type DateOrder string

// Supported date orders.
const (
	// DayFirst reads 03/04/2016 as 3 April 2016.
	DayFirst DateOrder = "dmy"
	// MonthFirst reads 03/04/2016 as 4 March 2016.
	MonthFirst DateOrder = "mdy"
)

// ParseDateOrder validates a configured date order.
func ParseDateOrder(s string) (DateOrder, error) {
	switch DateOrder(strings.ToLower(strings.TrimSpace(s))) {
	case DayFirst, "":
		return DayFirst, nil
	case MonthFirst:
		return MonthFirst, nil
	}
	return "", fmt.Errorf("unknown date order %q (want dmy or mdy)", s)
}

func (o DateOrder) other() DateOrder {
	if o == MonthFirst {
		return DayFirst
	}
	return MonthFirst
}

// ParseDate parses a source date. Accepted forms are YYYY-MM-DD and
// day/month/year or month/day/year with '/', '-' or '.' separators. A trailing
// time of day ("2016-11-08 00:00:00") is ignored.
//
// The preferred order is tried first; the other order is used only when the
// preferred reading is not a real calendar day, so 03/15/2016 parses as
// 15 March 2016 under either preference.
func ParseDate(raw string, order DateOrder) (core.Date, error) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexAny(s, " T"); i > 0 {
		s = s[:i]
	}
	if s == "" {
		return core.Date{}, &core.FormatError{Value: raw, Reason: "empty date"}
	}

	parts := splitDate(s)
	if len(parts) != 3 {
		return core.Date{}, &core.FormatError{Value: raw, Reason: "expected three date components"}
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return core.Date{}, &core.FormatError{Value: raw, Reason: "non-numeric date component"}
		}
		nums[i] = n
	}

	// Year first: YYYY-MM-DD.
	if len(parts[0]) == 4 {
		if len(parts[1]) > 2 || len(parts[2]) > 2 {
			return core.Date{}, &core.FormatError{Value: raw, Reason: "malformed ISO date"}
		}
		if d, ok := core.NewDate(nums[0], time.Month(nums[1]), nums[2]); ok {
			return d, nil
		}
		return core.Date{}, &core.FormatError{Value: raw, Reason: "not a calendar date"}
	}

	if len(parts[2]) != 4 || len(parts[0]) > 2 || len(parts[1]) > 2 {
		return core.Date{}, &core.FormatError{Value: raw, Reason: "unrecognized date layout"}
	}
	if order == "" {
		order = DayFirst
	}
	if d, ok := dateInOrder(nums, order); ok {
		return d, nil
	}
	if d, ok := dateInOrder(nums, order.other()); ok {
		return d, nil
	}
	return core.Date{}, &core.FormatError{Value: raw, Reason: "not a calendar date"}
}

func dateInOrder(nums []int, order DateOrder) (core.Date, bool) {
	day, month := nums[0], nums[1]
	if order == MonthFirst {
		day, month = nums[1], nums[0]
	}
	return core.NewDate(nums[2], time.Month(month), day)
}

func splitDate(s string) []string {
	for _, sep := range []string{"/", "-", "."} {
		if strings.Contains(s, sep) {
			return strings.Split(s, sep)
		}
	}
	return nil
}
