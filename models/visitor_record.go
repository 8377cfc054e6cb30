package models

import "time"

// VisitorRecord is one observation of a pool's reported visitor count.
// Weekday, WeekNumber, ISOYear, LocalDate and Hour are derived from Timestamp
// in the pool's timezone when the record is built and never change afterwards.
type VisitorRecord struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	PoolID       uint      `gorm:"not null;uniqueIndex:idx_visitor_pool_timestamp,priority:1;index:idx_visitor_pool_weekday,priority:1;index:idx_visitor_pool_date,priority:1" json:"pool_id"`
	Timestamp    time.Time `gorm:"not null;uniqueIndex:idx_visitor_pool_timestamp,priority:2;index" json:"timestamp"`
	Weekday      string    `gorm:"size:10;not null;index:idx_visitor_pool_weekday,priority:2" json:"weekday"`
	VisitorCount int       `gorm:"not null" json:"visitor_count"`
	WeekNumber   int       `gorm:"not null" json:"week_number"`
	ISOYear      int       `gorm:"column:iso_year;not null" json:"iso_year"`
	LocalDate    string    `gorm:"size:10;not null;index:idx_visitor_pool_date,priority:2" json:"local_date"`
	Hour         int       `gorm:"not null" json:"hour"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewVisitorRecord builds a record observed at t, deriving calendar fields in loc.
// The stored timestamp is the UTC instant truncated to whole seconds.
func NewVisitorRecord(poolID uint, count int, t time.Time, loc *time.Location) VisitorRecord {
	t = t.Truncate(time.Second)
	local := t.In(loc)
	year, week := local.ISOWeek()
	return VisitorRecord{
		PoolID:       poolID,
		Timestamp:    t.UTC(),
		Weekday:      local.Weekday().String(),
		VisitorCount: count,
		WeekNumber:   week,
		ISOYear:      year,
		LocalDate:    local.Format(DateLayout),
		Hour:         local.Hour(),
	}
}

// DateLayout is the calendar date format used for LocalDate and date filters.
const DateLayout = "2006-01-02"

// Weekdays lists weekday names in presentation order.
var Weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// WeekdayIndex returns the position of name in Weekdays, or -1.
func WeekdayIndex(name string) int {
	for i, d := range Weekdays {
		if d == name {
			return i
		}
	}
	return -1
}
