package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// CalendarClient provides access to the Google Calendar API.
type CalendarClient struct {
	oauth *OAuthManager
	loc   *time.Location
}

// NewCalendarClient creates a Calendar API client. All-day dates from the
// API carry no zone, so they are interpreted in loc.
func NewCalendarClient(oauth *OAuthManager, loc *time.Location) *CalendarClient {
	return &CalendarClient{oauth: oauth, loc: loc}
}

// getService returns a configured Calendar API service.
func (c *CalendarClient) getService(ctx context.Context) (*calendar.Service, error) {
	httpClient, err := c.oauth.GetClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth client: %w", err)
	}

	service, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}

	return service, nil
}

// ListCalendars returns all calendars visible to the authorized account.
func (c *CalendarClient) ListCalendars(ctx context.Context) ([]Calendar, error) {
	service, err := c.getService(ctx)
	if err != nil {
		return nil, err
	}

	list, err := service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}

	var calendars []Calendar
	for _, item := range list.Items {
		calendars = append(calendars, Calendar{
			ID:      item.Id,
			Summary: item.Summary,
			Primary: item.Primary,
		})
	}

	return calendars, nil
}

// SyncEvents fetches events for one sync pass, following pagination until a
// next sync token is issued. With req.SyncToken set only changes since the
// previous pass are returned, cancellations included; otherwise the request
// is a bounded full fetch.
func (c *CalendarClient) SyncEvents(ctx context.Context, req SyncRequest) (*SyncResponse, error) {
	service, err := c.getService(ctx)
	if err != nil {
		return nil, err
	}

	calendarID := req.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}

	resp := &SyncResponse{}
	pageToken := ""

	for {
		call := service.Events.List(calendarID).Context(ctx).SingleEvents(true)

		if req.SyncToken != "" {
			call = call.SyncToken(req.SyncToken)
		} else {
			if !req.TimeMin.IsZero() {
				call = call.TimeMin(req.TimeMin.Format(time.RFC3339))
			}
			if !req.TimeMax.IsZero() {
				call = call.TimeMax(req.TimeMax.Format(time.RFC3339))
			}
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		events, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list events: %w", err)
		}

		for _, item := range events.Items {
			resp.Events = append(resp.Events, c.convertEvent(item))
		}

		if events.NextPageToken == "" {
			resp.NextSyncToken = events.NextSyncToken
			return resp, nil
		}
		pageToken = events.NextPageToken
	}
}

// DeleteEvent removes an event from the calendar.
func (c *CalendarClient) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	service, err := c.getService(ctx)
	if err != nil {
		return err
	}

	if calendarID == "" {
		calendarID = "primary"
	}

	if err := service.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", eventID, err)
	}

	return nil
}

func (c *CalendarClient) convertEvent(e *calendar.Event) SyncedEvent {
	event := SyncedEvent{
		ID:        e.Id,
		Title:     e.Summary,
		Cancelled: e.Status == "cancelled",
	}

	if e.Start != nil {
		if e.Start.Date != "" {
			event.AllDay = true
			event.Start, _ = time.ParseInLocation("2006-01-02", e.Start.Date, c.loc)
		} else if e.Start.DateTime != "" {
			event.Start, _ = time.Parse(time.RFC3339, e.Start.DateTime)
		}
	}

	if e.End != nil {
		if e.End.Date != "" {
			event.End, _ = time.ParseInLocation("2006-01-02", e.End.Date, c.loc)
		} else if e.End.DateTime != "" {
			event.End, _ = time.Parse(time.RFC3339, e.End.DateTime)
		}
	}

	return event
}

// IsSyncTokenInvalid reports whether err is the API telling us the
// incremental cursor has expired and a full fetch is required.
func IsSyncTokenInvalid(err error) bool {
	return statusCode(err) == http.StatusGone
}

// IsAuthError reports whether err is an authentication failure: an API call
// rejected for bad credentials, or a token refresh rejected because the
// grant was revoked. Refresh failures surface as *oauth2.RetrieveError, not
// *googleapi.Error, so both shapes are checked.
func IsAuthError(err error) bool {
	switch statusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" {
			return true
		}
		return retrieveErr.Response != nil && retrieveErr.Response.StatusCode == http.StatusUnauthorized
	}

	return false
}

func statusCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
