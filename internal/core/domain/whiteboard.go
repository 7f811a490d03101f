package domain

// WhiteboardItemType distinguishes the two visual shapes a project maps to.
type WhiteboardItemType string

const (
	WhiteboardItemCard  WhiteboardItemType = "card"
	WhiteboardItemFrame WhiteboardItemType = "frame"
)

// WhiteboardItem is a card or frame in the whiteboard service.
type WhiteboardItem struct {
	ID          string             `json:"id"`
	BoardID     string             `json:"board_id"`
	Type        WhiteboardItemType `json:"type"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Status      string             `json:"status,omitempty"`
}

// CardForProject builds the card representation of a project.
func CardForProject(p *Project) *WhiteboardItem {
	item := &WhiteboardItem{
		Type:        WhiteboardItemCard,
		Title:       p.Name,
		Description: p.Description,
		Status:      string(p.Status),
	}
	if p.BoardID != nil {
		item.BoardID = *p.BoardID
	}
	if p.CardID != nil {
		item.ID = *p.CardID
	}
	return item
}

// Equal reports whether two items carry the same visible fields.
// Used for the update-if-changed policy.
func (i *WhiteboardItem) Equal(other *WhiteboardItem) bool {
	if i == nil || other == nil {
		return i == other
	}
	return i.Title == other.Title &&
		i.Description == other.Description &&
		i.Status == other.Status
}
