package source

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"roomsync/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GoogleCalendar implements domain.CalendarSource over the Calendar API.
// Room mailboxes are addressed as calendar ids; the empty mailbox resolves
// to the impersonated viewer's primary calendar.
type GoogleCalendar struct {
	service *calendar.Service
	logger  zerolog.Logger
}

// NewGoogleCalendar builds a client from a service-account credentials file.
// subject is the viewer address the service account impersonates, so that
// "primary" means the viewer's own calendar.
func NewGoogleCalendar(ctx context.Context, credentialsFile, subject string, logger *zerolog.Logger) (*GoogleCalendar, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	config.Subject = subject

	srv, err := calendar.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}

	return &GoogleCalendar{
		service: srv,
		logger:  logger.With().Str("component", "calendar").Logger(),
	}, nil
}

// TestConnection verifies the primary calendar is reachable.
func (g *GoogleCalendar) TestConnection(ctx context.Context) error {
	_, err := g.service.Calendars.Get("primary").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", wrapAuth(err))
	}
	return nil
}

// ListEvents fetches single-instance events for the date window. All-day
// entries carry no timestamps and are skipped; they cannot occupy slots.
func (g *GoogleCalendar) ListEvents(ctx context.Context, mailbox string, from, to time.Time) ([]models.RawEvent, error) {
	list, err := g.service.Events.List(calendarID(mailbox)).
		SingleEvents(true).
		OrderBy("startTime").
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", calendarID(mailbox), wrapAuth(err))
	}

	out := make([]models.RawEvent, 0, len(list.Items))
	for _, item := range list.Items {
		if item.Status == "cancelled" {
			continue
		}
		if item.Start == nil || item.Start.DateTime == "" || item.End == nil || item.End.DateTime == "" {
			continue
		}
		start, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339, item.End.DateTime)
		if err != nil {
			continue
		}

		raw := models.RawEvent{
			ID:       item.Id,
			Subject:  item.Summary,
			Start:    start.Local(),
			End:      end.Local(),
			Body:     item.Description,
			Location: item.Location,
		}
		if item.Organizer != nil {
			raw.OrganizerName = item.Organizer.DisplayName
			raw.OrganizerAddress = item.Organizer.Email
		}
		for _, a := range item.Attendees {
			raw.Attendees = append(raw.Attendees, models.Attendee{
				Name:    a.DisplayName,
				Address: a.Email,
			})
		}
		out = append(out, raw)
	}
	return out, nil
}

// CreateEvent inserts an event and returns its remote id.
func (g *GoogleCalendar) CreateEvent(ctx context.Context, mailbox string, payload models.EventPayload) (string, error) {
	ev := &calendar.Event{
		Summary:     payload.Subject,
		Description: payload.Body,
		Location:    payload.Location,
		Start:       &calendar.EventDateTime{DateTime: payload.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: payload.End.Format(time.RFC3339)},
	}
	for _, addr := range payload.Attendees {
		ev.Attendees = append(ev.Attendees, &calendar.EventAttendee{Email: addr})
	}

	created, err := g.service.Events.Insert(calendarID(mailbox), ev).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create event: %w", wrapAuth(err))
	}
	return created.Id, nil
}

// DeleteEvent removes an event by remote id.
func (g *GoogleCalendar) DeleteEvent(ctx context.Context, mailbox string, eventID string) error {
	if err := g.service.Events.Delete(calendarID(mailbox), eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete event %s: %w", eventID, wrapAuth(err))
	}
	return nil
}

func calendarID(mailbox string) string {
	if mailbox == "" {
		return "primary"
	}
	return mailbox
}

// wrapAuth maps 401 responses to ErrAuthRequired. Permission and transport
// errors pass through; the reconciler treats those as room-level degraded.
func wrapAuth(err error) error {
	if apiErr, ok := err.(*googleapi.Error); ok && apiErr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%w: %v", ErrAuthRequired, err)
	}
	return err
}
