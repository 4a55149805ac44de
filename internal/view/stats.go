// Package view は課題一覧から集計値と日付ごとのまとまりを導出する。
// 関数はすべて純粋で、入力を変更しない。
package view

import (
	"sort"
	"time"

	"github.com/hitoshi/taskboard/internal/model"
)

// Stats は課題の状態別件数。
type Stats struct {
	Total      int
	Completed  int
	InProgress int
	Pending    int
}

// DayBucket は期限日が同じ課題のまとまり。
type DayBucket struct {
	Date        string
	Assignments []*model.Assignment
}

// DashboardStats は課題を状態別に数える。
func DashboardStats(assignments []*model.Assignment) Stats {
	s := Stats{Total: len(assignments)}
	for _, a := range assignments {
		switch a.Status {
		case model.StatusCompleted:
			s.Completed++
		case model.StatusInProgress:
			s.InProgress++
		case model.StatusPending:
			s.Pending++
		}
	}
	return s
}

// dayKey は時刻をlocにおける暦日（YYYY-MM-DD）に変換する。
func dayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(time.DateOnly)
}

// CalendarBuckets は期限日のlocにおける暦日ごとに課題をまとめる。
// 期限のない課題は含めない。日付の昇順で返し、各日の中は入力順を保つ。
func CalendarBuckets(assignments []*model.Assignment, loc *time.Location) []DayBucket {
	if loc == nil {
		loc = time.UTC
	}
	index := make(map[string]int)
	var buckets []DayBucket
	for _, a := range assignments {
		if a.DueDate == nil {
			continue
		}
		key := dayKey(*a.DueDate, loc)
		i, ok := index[key]
		if !ok {
			i = len(buckets)
			index[key] = i
			buckets = append(buckets, DayBucket{Date: key})
		}
		buckets[i].Assignments = append(buckets[i].Assignments, a)
	}
	sort.SliceStable(buckets, func(i, j int) bool { return buckets[i].Date < buckets[j].Date })
	return buckets
}

// DueOn はlocにおいてdayと同じ暦日が期限の課題を返す。
func DueOn(assignments []*model.Assignment, day time.Time, loc *time.Location) []*model.Assignment {
	if loc == nil {
		loc = time.UTC
	}
	want := dayKey(day, loc)
	var out []*model.Assignment
	for _, a := range assignments {
		if a.DueDate != nil && dayKey(*a.DueDate, loc) == want {
			out = append(out, a)
		}
	}
	return out
}

// InRange は暦日がfrom以上to以下のまとまりだけを返す。空文字列の境界は無制限。
func InRange(buckets []DayBucket, from, to string) []DayBucket {
	out := make([]DayBucket, 0, len(buckets))
	for _, b := range buckets {
		if from != "" && b.Date < from {
			continue
		}
		if to != "" && b.Date > to {
			continue
		}
		out = append(out, b)
	}
	return out
}
