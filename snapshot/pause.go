package snapshot

import (
	"context"

	"github.com/delaneyj/resumable/core"
	"github.com/delaneyj/resumable/dom"
)

// Pause serializes the container into a payload script appended to the
// container (or to body when the container is the html element) and marks the
// container paused. Pausing a paused container fails with ErrContainerAlreadyPaused.
func Pause(ctx context.Context, c *core.Container) (*Result, error) {
	root := c.Root()
	if c.IsPaused() {
		return nil, core.NewError(core.CodeContainerAlreadyPaused, "pause", root, nil)
	}
	res, err := FromContainer(ctx, c)
	if err != nil {
		return nil, err
	}
	text, err := Encode(res.State, c.Dev())
	if err != nil {
		return nil, err
	}
	script := dom.NewElement("script", dom.Attr{Name: "type", Value: ScriptType})
	script.SetTextContent(text)
	jsonParent(root).AppendChild(script)
	root.SetAttr(core.AttrContainer, core.StatePaused)
	return res, nil
}
