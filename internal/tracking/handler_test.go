package tracking

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/dispatch-engine/internal/domain"
	"github.com/ignite/dispatch-engine/internal/events"
	"github.com/ignite/dispatch-engine/internal/store/memory"
)

type handlerFixture struct {
	codec      *TokenCodec
	campaigns  *memory.CampaignStore
	recipients *memory.RecipientStore
	records    *memory.SendRecordStore
	server     *httptest.Server
}

func setupHandler(t *testing.T) *handlerFixture {
	t.Helper()
	f := &handlerFixture{
		codec:      NewTokenCodec("test-secret"),
		campaigns:  memory.NewCampaignStore(),
		recipients: memory.NewRecipientStore(),
		records:    memory.NewSendRecordStore(),
	}
	proc := events.NewProcessor(f.campaigns, f.recipients, f.records, nil)
	h := NewHandler(f.codec, NewInProcPublisher(proc), "https://home.example.com")
	f.server = httptest.NewServer(h.Routes())
	t.Cleanup(f.server.Close)

	f.campaigns.Put(&domain.Campaign{ID: "c1", Status: domain.CampaignSending})
	f.recipients.Put(&domain.Recipient{
		ID: "r1", Email: "jane@example.com", Status: domain.RecipientSubscribed,
	})
	created, err := f.records.Create(context.Background(), &domain.SendRecord{
		ID: "sr1", CampaignID: "c1", RecipientID: "r1",
	})
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, f.records.MarkSent(context.Background(), "sr1", "m1", 3))
	return f
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0)")
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestOpenEndpointServesPixelAndCounts(t *testing.T) {
	f := setupHandler(t)

	token := f.codec.Encode("sr1")
	resp := get(t, f.server.URL+"/t/open/"+token)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))

	c, err := f.campaigns.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.OpenCount)
	assert.Equal(t, 1, c.UniqueOpenCount)
}

func TestOpenEndpointInvalidTokenStillServesPixel(t *testing.T) {
	f := setupHandler(t)

	resp := get(t, f.server.URL+"/t/open/not-a-real-token")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))

	c, err := f.campaigns.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Zero(t, c.OpenCount)
}

func TestOpenEndpointTamperedTokenDoesNotCount(t *testing.T) {
	f := setupHandler(t)

	token := f.codec.Encode("sr1")
	tampered := token[:len(token)-1] + "x"
	resp := get(t, f.server.URL+"/t/open/"+tampered)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	c, err := f.campaigns.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Zero(t, c.OpenCount)
}

func TestClickEndpointRedirectsToDestination(t *testing.T) {
	f := setupHandler(t)

	token := f.codec.Encode("sr1", "https://shop.example.com/item?a=1")
	resp := get(t, f.server.URL+"/t/click/"+token)

	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "https://shop.example.com/item?a=1", resp.Header.Get("Location"))

	c, err := f.campaigns.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.ClickCount)
	assert.Equal(t, 1, c.UniqueClickCount)
}

func TestClickEndpointInvalidTokenRedirectsHome(t *testing.T) {
	f := setupHandler(t)

	resp := get(t, f.server.URL+"/t/click/bogus")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://home.example.com", resp.Header.Get("Location"))
}

func TestClickEndpointRejectsNonHTTPDestination(t *testing.T) {
	f := setupHandler(t)

	token := f.codec.Encode("sr1", "javascript:alert(1)")
	resp := get(t, f.server.URL+"/t/click/"+token)

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://home.example.com", resp.Header.Get("Location"))

	c, err := f.campaigns.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Zero(t, c.ClickCount)
}

func TestUnsubscribeEndpointFlipsRecipient(t *testing.T) {
	f := setupHandler(t)

	token := f.codec.Encode("r1", "sr1")
	resp := get(t, f.server.URL+"/t/unsubscribe/"+token)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	r, err := f.recipients.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RecipientUnsubscribed, r.Status)

	c, err := f.campaigns.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UnsubscribeCount)
}

func TestUnsubscribeOneClickPost(t *testing.T) {
	f := setupHandler(t)

	token := f.codec.Encode("r1", "sr1")
	resp, err := http.Post(f.server.URL+"/t/unsubscribe/"+token, "application/x-www-form-urlencoded", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	r, err := f.recipients.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RecipientUnsubscribed, r.Status)
}

func TestHealthEndpoint(t *testing.T) {
	f := setupHandler(t)

	resp := get(t, f.server.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokenRoundTrip(t *testing.T) {
	codec := NewTokenCodec("k1")

	token := codec.Encode("sr1", "https://x.example.com/page")
	parts, err := codec.Decode(token)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, "sr1", parts[0])
	assert.Equal(t, "https://x.example.com/page", parts[1])

	_, err = NewTokenCodec("k2").Decode(token)
	assert.ErrorIs(t, err, ErrBadToken)
}

func TestClickEndpointDestinationWithSeparator(t *testing.T) {
	f := setupHandler(t)

	token := f.codec.Encode("sr1", "https://x.example.com/a|b")
	resp := get(t, f.server.URL+"/t/click/"+token)

	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "https://x.example.com/a|b", resp.Header.Get("Location"))
}
