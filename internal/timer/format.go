package timer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidDuration = errors.New("timer: invalid duration display")

// Format renders d as M:SS, or H:MM:SS once d reaches one hour.
// Sub-second precision is truncated; negative values render as 0:00.
func Format(d time.Duration) string {
	return FormatSeconds(int(d / time.Second))
}

func FormatSeconds(total int) string {
	if total < 0 {
		total = 0
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// Parse is the inverse of FormatSeconds.
func Parse(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}

	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		// Every field after the leading one is zero padded and below 60.
		if i > 0 && (len(p) != 2 || n > 59) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		nums[i] = n
	}

	if len(nums) == 2 {
		if nums[0] > 59 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		return nums[0]*60 + nums[1], nil
	}
	if nums[0] == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	return nums[0]*3600 + nums[1]*60 + nums[2], nil
}
