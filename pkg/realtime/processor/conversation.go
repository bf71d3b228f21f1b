package processor

import (
	"slices"
	"sync"

	"github.com/MrWong99/rtbridge/pkg/realtime/dispatch"
	"github.com/MrWong99/rtbridge/pkg/realtime/events"
)

// Conversation mirrors the server-side conversation: the ordered item list,
// streamed content parts, audio truncations and cumulative token usage.
type Conversation struct {
	base
	onResponse func(events.Response)

	mu        sync.Mutex
	id        string
	order     []string
	items     map[string]*events.Item
	truncated map[string]int
	usage     events.Usage
	responses int
	commits   int
	clears    int
}

// NewConversation creates a conversation tracker. onResponse, if non-nil,
// runs on every response.done; the response must not be retained.
func NewConversation(onResponse func(events.Response)) *Conversation {
	c := &Conversation{
		base:       newBase("conversation"),
		onResponse: onResponse,
		items:      make(map[string]*events.Item),
		truncated:  make(map[string]int),
	}
	dispatch.MustRegister(c.d, func(ev *events.ConversationCreated) {
		c.mu.Lock()
		c.id = ev.Conversation.ID
		c.mu.Unlock()
	})
	dispatch.MustRegister(c.d, func(ev *events.ConversationItemCreated) {
		c.upsert(ev.PreviousItemID, ev.Item)
	})
	dispatch.MustRegister(c.d, func(ev *events.ConversationItemDeleted) {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.items, ev.ItemID)
		delete(c.truncated, ev.ItemID)
		c.order = slices.DeleteFunc(c.order, func(id string) bool { return id == ev.ItemID })
	})
	dispatch.MustRegister(c.d, func(ev *events.ConversationItemTruncated) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.truncated[ev.ItemID] = ev.AudioEndMS
		if it, ok := c.items[ev.ItemID]; ok && ev.ContentIndex < len(it.Content) {
			it.Content[ev.ContentIndex].Audio = ""
		}
	})
	dispatch.MustRegister(c.d, func(*events.InputAudioBufferCommitted) {
		c.mu.Lock()
		c.commits++
		c.mu.Unlock()
	})
	dispatch.MustRegister(c.d, func(*events.InputAudioBufferCleared) {
		c.mu.Lock()
		c.clears++
		c.mu.Unlock()
	})
	dispatch.MustRegister(c.d, func(ev *events.ResponseOutputItemAdded) {
		c.upsert("", ev.Item)
	})
	dispatch.MustRegister(c.d, func(ev *events.ResponseOutputItemDone) {
		c.upsert("", ev.Item)
	})
	dispatch.MustRegister(c.d, func(ev *events.ResponseContentPartAdded) {
		c.setPart(ev.ItemID, ev.ContentIndex, ev.Part)
	})
	dispatch.MustRegister(c.d, func(ev *events.ResponseContentPartDone) {
		c.setPart(ev.ItemID, ev.ContentIndex, ev.Part)
	})
	dispatch.MustRegister(c.d, func(ev *events.ResponseDone) {
		c.mu.Lock()
		c.responses++
		if u := ev.Response.Usage; u != nil {
			c.usage.InputTokens += u.InputTokens
			c.usage.OutputTokens += u.OutputTokens
			c.usage.TotalTokens += u.TotalTokens
		}
		c.mu.Unlock()
		if c.onResponse != nil {
			c.onResponse(ev.Response)
		}
	})
	return c
}

// upsert stores a copy of it. New items go after prev, or at the end when
// prev is empty or unknown.
func (c *Conversation) upsert(prev string, it events.Item) {
	if it.ID == "" {
		return
	}
	cp := it
	cp.Content = slices.Clone(it.Content)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[it.ID]; ok {
		c.items[it.ID] = &cp
		return
	}
	c.items[it.ID] = &cp
	if i := slices.Index(c.order, prev); prev != "" && i >= 0 {
		c.order = slices.Insert(c.order, i+1, it.ID)
		return
	}
	c.order = append(c.order, it.ID)
}

func (c *Conversation) setPart(itemID string, idx int, part events.ContentPart) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[itemID]
	if !ok || idx < 0 {
		return
	}
	for len(it.Content) <= idx {
		it.Content = append(it.Content, events.ContentPart{})
	}
	it.Content[idx] = part
}

// ID returns the conversation id.
func (c *Conversation) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Items returns copies of the items in conversation order.
func (c *Conversation) Items() []events.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Item, 0, len(c.order))
	for _, id := range c.order {
		it := *c.items[id]
		it.Content = slices.Clone(it.Content)
		out = append(out, it)
	}
	return out
}

// Item returns a copy of the item with the given id.
func (c *Conversation) Item(id string) (events.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.items[id]
	if !ok {
		return events.Item{}, false
	}
	it := *p
	it.Content = slices.Clone(it.Content)
	return it, true
}

// TruncatedAt returns the audio_end_ms of a truncated item.
func (c *Conversation) TruncatedAt(id string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms, ok := c.truncated[id]
	return ms, ok
}

// Stats summarizes the conversation so far.
type Stats struct {
	Items     int
	Responses int
	Commits   int
	Clears    int
	Usage     events.Usage
}

// Stats returns counters and cumulative token usage.
func (c *Conversation) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Items:     len(c.order),
		Responses: c.responses,
		Commits:   c.commits,
		Clears:    c.clears,
		Usage:     c.usage,
	}
}
