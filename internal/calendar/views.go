package calendar

import (
	"time"

	"github.com/taskdeck/taskdeck/internal/tasks"
)

// DaySummary is the calendar badge for one day with tasks.
type DaySummary struct {
	// Day is the day of month (1-based)
	Day int `json:"day"`

	// Tasks holds the day's tasks in arrival order
	Tasks []tasks.Task `json:"tasks"`

	// Done is the number of completed tasks
	Done int `json:"done"`

	// Total is the number of tasks
	Total int `json:"total"`

	// Ratio is Done over Total, 0 for an empty day
	Ratio float64 `json:"ratio"`
}

// TasksForDay filters a collection snapshot to the tasks created on the
// given local calendar day, preserving arrival order. The day spans
// [00:00:00, 24:00:00) local time.
func TasksForDay(collection []tasks.Task, year int, month time.Month, day int) []tasks.Task {
	start := time.Date(year, month, day, 0, 0, 0, 0, time.Local)
	end := start.AddDate(0, 0, 1)

	var matched []tasks.Task
	for _, task := range collection {
		created := task.CreatedTime()
		if !created.Before(start) && created.Before(end) {
			matched = append(matched, task)
		}
	}
	return matched
}

// CompletionRatio returns the completed fraction of a task list.
// An empty list is 0, not a division error.
func CompletionRatio(collection []tasks.Task) float64 {
	if len(collection) == 0 {
		return 0
	}

	done := 0
	for _, task := range collection {
		if task.Completed {
			done++
		}
	}
	return float64(done) / float64(len(collection))
}

// MonthSummary groups a collection snapshot into per-day badges for the
// given local month. Only days with at least one task appear, in day
// order.
func MonthSummary(collection []tasks.Task, year int, month time.Month) []DaySummary {
	var summaries []DaySummary
	for day := 1; day <= daysIn(year, month); day++ {
		dayTasks := TasksForDay(collection, year, month, day)
		if len(dayTasks) == 0 {
			continue
		}

		done := 0
		for _, task := range dayTasks {
			if task.Completed {
				done++
			}
		}

		summaries = append(summaries, DaySummary{
			Day:   day,
			Tasks: dayTasks,
			Done:  done,
			Total: len(dayTasks),
			Ratio: CompletionRatio(dayTasks),
		})
	}
	return summaries
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.Local).Day()
}
