package discipline

import (
	"context"
)

// Classify derives the review status of one date. Skipped is never stored:
// it is what an elapsed date without a record reads as.
//
//	future date              -> upcoming
//	record present           -> its stored status
//	no record, date elapsed  -> skipped
//	no record, today         -> pending
//
// A day is neutral when discipline mode was off for it, either as recorded
// on the day or, without a record, per the current settings.
func Classify(rec *DayRecord, date, today string, disciplineOn bool) ReviewDay {
	day := ReviewDay{Date: date, Record: rec}

	switch {
	case date > today:
		day.Status = ReviewUpcoming
		day.Neutral = !disciplineOn
		day.Record = nil
	case rec != nil:
		day.Status = string(rec.Status)
		day.Neutral = !rec.DisciplineEnabled
	case date < today:
		day.Status = string(StatusSkipped)
		day.Neutral = !disciplineOn
	default:
		day.Status = ReviewPending
		day.Neutral = !disciplineOn
	}
	return day
}

// WeeklyReview classifies the seven days of the current week in tz.
func (s *Service) WeeklyReview(ctx context.Context, userID, tz string) (*WeeklyReview, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	dates := s.clock.WeekDates(tz)
	today := s.clock.Today(tz)

	settings, err := s.store.GetSettings(ctx, userID)
	if err != nil {
		return nil, storeError("get settings", err)
	}
	disciplineOn := settings != nil && settings.Enabled

	records, err := s.store.ListDays(ctx, userID, dates[0], dates[len(dates)-1])
	if err != nil {
		return nil, storeError("list days", err)
	}
	byDate := make(map[string]*DayRecord, len(records))
	for _, r := range records {
		byDate[r.Date] = r
	}

	review := &WeeklyReview{
		UserID:   userID,
		Timezone: s.clock.Location(tz).String(),
		Days:     make([]ReviewDay, 0, len(dates)),
	}
	for _, date := range dates {
		day := Classify(byDate[date], date, today, disciplineOn)
		review.Days = append(review.Days, day)

		if day.Neutral {
			continue
		}
		switch Status(day.Status) {
		case StatusCompleted:
			review.Completed++
		case StatusBroken:
			review.Broken++
		case StatusSkipped:
			review.Skipped++
		}
		if day.Record != nil && day.Record.Overridden {
			review.Overrides++
		}
	}

	return review, nil
}
