package cases

import (
	"fmt"
	"math/rand"
	"time"
)

// DefaultSLAHours applies to cases without an institution.
const DefaultSLAHours = 48

// TATMinutes is the whole minutes from created to vetted, or to now while
// the case is undecided. It is never negative.
func TATMinutes(created time.Time, vetted *time.Time, now time.Time) int {
	if created.IsZero() {
		return 0
	}
	end := now
	if vetted != nil {
		end = *vetted
	}
	d := end.Sub(created)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}

// FormatTAT renders minutes as "2d 03h 04m", "03h 04m", "4m" or "<1m".
func FormatTAT(minutes int) string {
	hoursTotal := minutes / 60
	days := hoursTotal / 24
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %02dh %02dm", days, hoursTotal%24, minutes%60)
	case hoursTotal > 0:
		return fmt.Sprintf("%02dh %02dm", hoursTotal, minutes%60)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return "<1m"
	}
}

// SLABreached reports whether an undecided case has waited longer than
// slaHours. A non-positive slaHours means DefaultSLAHours.
func SLABreached(status Status, tatMinutes, slaHours int) bool {
	if status != StatusPending && status != StatusReopened {
		return false
	}
	if slaHours <= 0 {
		slaHours = DefaultSLAHours
	}
	return tatMinutes > slaHours*60
}

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewID returns a readable case id of the form YYYYMMDD-XXXX using the UTC
// date of now. Ids are not unique by construction; callers retry on
// conflict.
func NewID(now time.Time) string {
	suffix := make([]byte, 4)
	for i := range suffix {
		suffix[i] = idAlphabet[rand.Intn(len(idAlphabet))]
	}
	return now.UTC().Format("20060102") + "-" + string(suffix)
}
