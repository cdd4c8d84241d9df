package tools

import (
	"context"
	"fmt"
	"time"
)

var weekdayNames = map[time.Weekday]string{
	time.Sunday:    "星期日",
	time.Monday:    "星期一",
	time.Tuesday:   "星期二",
	time.Wednesday: "星期三",
	time.Thursday:  "星期四",
	time.Friday:    "星期五",
	time.Saturday:  "星期六",
}

// DatetimeTool reports the current date and time.
type DatetimeTool struct {
	// Now is swappable for tests. Defaults to time.Now.
	Now func() time.Time
}

func (t *DatetimeTool) Name() string { return "get_datetime" }
func (t *DatetimeTool) Description() string {
	return "获取当前的日期和时间"
}
func (t *DatetimeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
		"required":   []string{},
	}
}

func (t *DatetimeTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	n := now()
	return fmt.Sprintf("当前时间: %s %s", n.Format("2006-01-02 15:04:05"), weekdayNames[n.Weekday()]), nil
}
