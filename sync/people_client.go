// ABOUTME: Google People API client for contact reconciliation
// ABOUTME: Rate-limited, per-call timeouts, read-only retries, etag-carrying mutations, error mapping
package sync

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/api/people/v1"
)

// Field masks used for reads and writes.
var (
	SummaryFields = []string{"metadata"}
	PersonFields  = []string{"names", "emailAddresses", "phoneNumbers", "organizations", "biographies", "userDefined", "metadata"}
	UpdateFields  = []string{"names", "emailAddresses", "phoneNumbers", "organizations", "biographies", "userDefined"}
)

// ListPage is one page of the remote connection listing.
type ListPage struct {
	Entries       []*people.Person
	NextPageToken string
}

// RemoteContacts is the remote directory surface the engine drives.
type RemoteContacts interface {
	List(ctx context.Context, pageSize int, pageToken string, fieldMask []string) (*ListPage, error)
	Get(ctx context.Context, resourceName string, fieldMask []string) (*people.Person, error)
	Create(ctx context.Context, person *people.Person) (*people.Person, error)
	Update(ctx context.Context, resourceName string, person *people.Person, updateMask []string, expectedEtag string) (*people.Person, error)
	Delete(ctx context.Context, resourceName string) error
}

// ClientOptions tunes a PeopleClient.
type ClientOptions struct {
	BaseURL           string
	Timeout           time.Duration
	ReadRetries       int
	RequestsPerSecond float64
	Burst             int
}

var _ RemoteContacts = (*PeopleClient)(nil)

// PeopleClient wraps the People API service.
type PeopleClient struct {
	svc     *people.Service
	limiter *rate.Limiter
	timeout time.Duration
	retries int
}

// NewPeopleClient creates a client whose requests are signed by httpClient.
func NewPeopleClient(ctx context.Context, httpClient *http.Client, opts ClientOptions) (*PeopleClient, error) {
	if httpClient == nil {
		return nil, fmt.Errorf("http client cannot be nil")
	}

	svcOpts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if opts.BaseURL != "" {
		svcOpts = append(svcOpts, option.WithEndpoint(opts.BaseURL))
	}

	service, err := people.NewService(ctx, svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create People service: %w", err)
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &PeopleClient{
		svc:     service,
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
		retries: opts.ReadRetries,
	}, nil
}

// List returns one page of connections of the authenticated user.
func (c *PeopleClient) List(ctx context.Context, pageSize int, pageToken string, fieldMask []string) (*ListPage, error) {
	resp, err := retryRead(ctx, c, "list", "people/me/connections", func(ctx context.Context) (*people.ListConnectionsResponse, error) {
		call := c.svc.People.Connections.List("people/me").
			PageSize(int64(pageSize)).
			PersonFields(strings.Join(fieldMask, ","))
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		return call.Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	return &ListPage{Entries: resp.Connections, NextPageToken: resp.NextPageToken}, nil
}

// Get fetches one person by resource name.
func (c *PeopleClient) Get(ctx context.Context, resourceName string, fieldMask []string) (*people.Person, error) {
	return retryRead(ctx, c, "get", resourceName, func(ctx context.Context) (*people.Person, error) {
		return c.svc.People.Get(resourceName).PersonFields(strings.Join(fieldMask, ",")).Context(ctx).Do()
	})
}

// Create creates a contact. Never retried: a repeated create could duplicate.
func (c *PeopleClient) Create(ctx context.Context, person *people.Person) (*people.Person, error) {
	return callOnce(ctx, c, "create", "people:createContact", func(ctx context.Context) (*people.Person, error) {
		return c.svc.People.CreateContact(person).PersonFields(strings.Join(PersonFields, ",")).Context(ctx).Do()
	})
}

// Update writes the fields in updateMask, guarded by expectedEtag.
func (c *PeopleClient) Update(ctx context.Context, resourceName string, person *people.Person, updateMask []string, expectedEtag string) (*people.Person, error) {
	person.Etag = expectedEtag
	return callOnce(ctx, c, "update", resourceName, func(ctx context.Context) (*people.Person, error) {
		return c.svc.People.UpdateContact(resourceName, person).
			UpdatePersonFields(strings.Join(updateMask, ",")).
			PersonFields(strings.Join(PersonFields, ",")).
			Context(ctx).Do()
	})
}

// Delete removes a contact.
func (c *PeopleClient) Delete(ctx context.Context, resourceName string) error {
	_, err := callOnce(ctx, c, "delete", resourceName, func(ctx context.Context) (*people.Empty, error) {
		return c.svc.People.DeleteContact(resourceName).Context(ctx).Do()
	})
	return err
}

func callOnce[T any](ctx context.Context, c *PeopleClient, op, endpoint string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := c.limiter.Wait(ctx); err != nil {
		return zero, mapRemoteError(op, endpoint, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := fn(callCtx)
	if err != nil {
		return zero, mapRemoteError(op, endpoint, err)
	}
	return out, nil
}

func retryRead[T any](ctx context.Context, c *PeopleClient, op, endpoint string, fn func(context.Context) (T, error)) (T, error) {
	if c.retries <= 0 {
		return callOnce(ctx, c, op, endpoint, fn)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	return backoff.Retry(ctx, func() (T, error) {
		out, err := callOnce(ctx, c, op, endpoint, fn)
		if err != nil {
			if ctx.Err() != nil || KindOf(err) != KindTransient {
				return out, backoff.Permanent(err)
			}
			return out, err
		}
		return out, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(c.retries)+1))
}

// Pages walks the connection listing from startToken until the listing is
// exhausted or the consumer stops.
func Pages(ctx context.Context, remote RemoteContacts, pageSize int, startToken string) iter.Seq2[*ListPage, error] {
	return func(yield func(*ListPage, error) bool) {
		token := startToken
		for {
			page, err := remote.List(ctx, pageSize, token, SummaryFields)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(page, nil) {
				return
			}
			if page.NextPageToken == "" {
				return
			}
			token = page.NextPageToken
		}
	}
}
