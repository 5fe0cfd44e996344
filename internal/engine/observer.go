// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"github.com/jeranaias/rigrun-chat/internal/toolcall"
	"github.com/jeranaias/rigrun-chat/internal/tools"
)

// Observer receives turn events. Methods are called synchronously from the
// goroutine running the turn, in order; implementations must not block for
// long and must not call back into the engine.
type Observer interface {
	OnState(State)
	OnReasoning(delta string)
	OnContent(ContentUpdate)
	OnToolStart(toolcall.Invocation)
	OnToolResult(tools.Result)
	OnError(reason string, err error)
	OnComplete(Outcome)
}

// Callbacks adapts plain functions to Observer. Nil fields are skipped.
type Callbacks struct {
	State      func(State)
	Reasoning  func(delta string)
	Content    func(ContentUpdate)
	ToolStart  func(toolcall.Invocation)
	ToolResult func(tools.Result)
	Error      func(reason string, err error)
	Complete   func(Outcome)
}

func (c Callbacks) OnState(s State) {
	if c.State != nil {
		c.State(s)
	}
}

func (c Callbacks) OnReasoning(delta string) {
	if c.Reasoning != nil {
		c.Reasoning(delta)
	}
}

func (c Callbacks) OnContent(u ContentUpdate) {
	if c.Content != nil {
		c.Content(u)
	}
}

func (c Callbacks) OnToolStart(inv toolcall.Invocation) {
	if c.ToolStart != nil {
		c.ToolStart(inv)
	}
}

func (c Callbacks) OnToolResult(res tools.Result) {
	if c.ToolResult != nil {
		c.ToolResult(res)
	}
}

func (c Callbacks) OnError(reason string, err error) {
	if c.Error != nil {
		c.Error(reason, err)
	}
}

func (c Callbacks) OnComplete(out Outcome) {
	if c.Complete != nil {
		c.Complete(out)
	}
}

// Observers fans events out to several observers in order. Nil entries
// are dropped.
func Observers(list ...Observer) Observer {
	var m multiObserver
	for _, o := range list {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

type multiObserver []Observer

func (m multiObserver) OnState(s State) {
	for _, o := range m {
		o.OnState(s)
	}
}

func (m multiObserver) OnReasoning(delta string) {
	for _, o := range m {
		o.OnReasoning(delta)
	}
}

func (m multiObserver) OnContent(u ContentUpdate) {
	for _, o := range m {
		o.OnContent(u)
	}
}

func (m multiObserver) OnToolStart(inv toolcall.Invocation) {
	for _, o := range m {
		o.OnToolStart(inv)
	}
}

func (m multiObserver) OnToolResult(res tools.Result) {
	for _, o := range m {
		o.OnToolResult(res)
	}
}

func (m multiObserver) OnError(reason string, err error) {
	for _, o := range m {
		o.OnError(reason, err)
	}
}

func (m multiObserver) OnComplete(out Outcome) {
	for _, o := range m {
		o.OnComplete(out)
	}
}
