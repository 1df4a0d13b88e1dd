package canvas

import "smartpin/api/internal/geometry"

// Selection returns a copy of the selection state with ids in pin order.
func (c *Canvas) Selection() Selection {
	ids := make([]string, 0, len(c.selected))
	for _, pin := range c.pins {
		if _, ok := c.selected[pin.ID]; ok {
			ids = append(ids, pin.ID)
		}
	}
	sel := Selection{IDs: ids, Mode: c.selectionMode, LastSelected: c.lastSelected}
	if c.selectionArea != nil {
		area := *c.selectionArea
		sel.Area = &area
	}
	return sel
}

func (c *Canvas) IsSelected(id string) bool {
	_, ok := c.selected[id]
	return ok
}

// SelectPin replaces the selection with id, or adds id when additive.
// Unknown ids are ignored.
func (c *Canvas) SelectPin(id string, additive bool) {
	if c.pinIndex(id) < 0 {
		return
	}
	if additive {
		c.selected[id] = struct{}{}
		c.selectionMode = SelectMultiple
	} else {
		c.selected = map[string]struct{}{id: {}}
		c.selectionMode = SelectSingle
	}
	c.selectionArea = nil
	c.lastSelected = id
	c.selectionChanged()
}

// SelectMany replaces the selection with the known ids among ids.
func (c *Canvas) SelectMany(ids []string) {
	c.selected = make(map[string]struct{}, len(ids))
	last := ""
	for _, id := range ids {
		if c.pinIndex(id) >= 0 {
			c.selected[id] = struct{}{}
			last = id
		}
	}
	c.selectionMode = SelectMultiple
	c.selectionArea = nil
	c.lastSelected = last
	c.selectionChanged()
}

// SelectAll selects every visible pin.
func (c *Canvas) SelectAll() {
	c.selectWhere(SelectMultiple, nil, func(Pin) bool { return true })
}

// SelectInArea selects the visible pins inside the closed rectangle spanned
// by two corners given in any order.
func (c *Canvas) SelectInArea(a, b geometry.Point) {
	area := geometry.RectFromCorners(a, b)
	c.selectWhere(SelectArea, &area, func(p Pin) bool { return area.Contains(p.Position) })
}

// SelectMatching selects the visible pins for which match returns true.
func (c *Canvas) SelectMatching(match func(Pin) bool) {
	c.selectWhere(SelectMultiple, nil, match)
}

func (c *Canvas) selectWhere(mode SelectionMode, area *geometry.Rect, match func(Pin) bool) {
	c.selected = make(map[string]struct{})
	last := ""
	for _, pin := range c.pins {
		if !c.isVisible(pin) || !match(pin.Clone()) {
			continue
		}
		c.selected[pin.ID] = struct{}{}
		last = pin.ID
	}
	c.selectionMode = mode
	c.selectionArea = area
	c.lastSelected = last
	c.selectionChanged()
}

func (c *Canvas) ClearSelection() {
	c.selected = make(map[string]struct{})
	c.selectionArea = nil
	c.lastSelected = ""
	c.selectionMode = SelectSingle
	c.selectionChanged()
}

func (c *Canvas) selectionChanged() {
	c.syncSelectedFlags()
	c.emit(EventSelectionChanged, c.Selection())
}

func (c *Canvas) syncSelectedFlags() {
	changed := false
	for i := range c.pins {
		_, selected := c.selected[c.pins[i].ID]
		if c.pins[i].Render.Selected != selected {
			c.pins[i].Render.Selected = selected
			changed = true
		}
	}
	if changed {
		c.touchPins()
	}
}
