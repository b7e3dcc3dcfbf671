package notifier

import (
	"OptionPilot/internal/domain/models"
	drepo "OptionPilot/internal/domain/repository"
)

// Multi fans notifications out to several notifiers.
type Multi []drepo.Notifier

func (m Multi) PublishStatus(s models.StatusSnapshot) {
	for _, n := range m {
		if n != nil {
			n.PublishStatus(s)
		}
	}
}

func (m Multi) PublishEvent(e models.Event) {
	for _, n := range m {
		if n != nil {
			n.PublishEvent(e)
		}
	}
}

// Discard drops every notification.
type Discard struct{}

func (Discard) PublishStatus(models.StatusSnapshot) {}
func (Discard) PublishEvent(models.Event)           {}
