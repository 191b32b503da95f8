package controller

import (
	"time"

	"github.com/charmbracelet/log"

	"shroud/internal/relay"
)

// ActivityEntry is one line of the user-visible activity log.
type ActivityEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"msg"`
	IsError bool      `json:"isError"`
}

func (c *Controller) logActivity(msg string, isError bool, keyvals ...any) {
	c.activity.Push(ActivityEntry{Time: time.Now(), Message: msg, IsError: isError})
	if isError {
		log.Error(msg, keyvals...)
	} else {
		log.Info(msg, keyvals...)
	}
	c.publish(relay.KindActivity, c.activity.Snapshot())
}
