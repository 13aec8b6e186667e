package chatclient

import (
	"strings"

	"github.com/supportdesk/internal/model"
	"golang.org/x/text/cases"
)

// Directory is the conversation list. The authoritative slice comes only
// from a listing; Filtered is derived from it and the current query.
type Directory struct {
	admin    bool
	all      []model.Conversation
	query    string
	filtered []model.Conversation
	fold     cases.Caser
}

// NewDirectory: admins keep every listed conversation, employees at most one.
func NewDirectory(admin bool) *Directory {
	return &Directory{admin: admin, fold: cases.Fold()}
}

// Replace installs a fresh listing.
func (d *Directory) Replace(list []model.Conversation) {
	all := make([]model.Conversation, len(list))
	copy(all, list)
	if !d.admin && len(all) > 1 {
		all = []model.Conversation{pickOwn(all)}
	}
	d.all = all
	d.refilter()
}

// pickOwn prefers the open conversation of an employee listing.
func pickOwn(list []model.Conversation) model.Conversation {
	for _, c := range list {
		if c.Status == model.ConversationOpen {
			return c
		}
	}
	return list[0]
}

func (d *Directory) SetQuery(q string) {
	d.query = q
	d.refilter()
}

func (d *Directory) refilter() {
	q := d.fold.String(strings.TrimSpace(d.query))
	if q == "" {
		d.filtered = d.all
		return
	}
	d.filtered = make([]model.Conversation, 0, len(d.all))
	for _, c := range d.all {
		if strings.Contains(d.fold.String(c.EmployeeName), q) {
			d.filtered = append(d.filtered, c)
		}
	}
}

func (d *Directory) All() []model.Conversation { return cloneConversations(d.all) }

func (d *Directory) Filtered() []model.Conversation { return cloneConversations(d.filtered) }

func (d *Directory) Find(id string) (model.Conversation, bool) {
	for _, c := range d.all {
		if c.ID == id {
			return c, true
		}
	}
	return model.Conversation{}, false
}

func cloneConversations(in []model.Conversation) []model.Conversation {
	out := make([]model.Conversation, len(in))
	copy(out, in)
	return out
}
