package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/distribution"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/repository"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/service/confirm"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/service/redirect"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/signature"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/token"
)

// --- fakes for the redirect path ---

type stubProducts struct {
	byID map[int64]*model.Product
}

func (s *stubProducts) GetByID(_ context.Context, id int64) (*model.Product, error) {
	return s.byID[id], nil
}
func (s *stubProducts) GetOwned(_ context.Context, id, customerID int64) (*model.Product, error) {
	p := s.byID[id]
	if p == nil || p.CustomerID != customerID {
		return nil, nil
	}
	return p, nil
}
func (s *stubProducts) ListRandomPool(context.Context, int64) ([]model.Product, error) {
	return nil, nil
}

type stubCampaigns struct {
	inserted []*model.Campaign
}

func (s *stubCampaigns) Insert(_ context.Context, c *model.Campaign) error {
	c.ID = int64(len(s.inserted) + 1)
	s.inserted = append(s.inserted, c)
	return nil
}
func (s *stubCampaigns) GetByID(context.Context, int64) (*model.Campaign, error) { return nil, nil }
func (s *stubCampaigns) FindByTrackingForCustomer(context.Context, string, int64) (*model.Campaign, error) {
	return nil, nil
}
func (s *stubCampaigns) ConfirmTx(context.Context, *sqlx.Tx, int64, []byte) (bool, error) {
	return false, nil
}
func (s *stubCampaigns) SetPostbackStatus(context.Context, int64, model.PostbackStatus, time.Time) error {
	return nil
}
func (s *stubCampaigns) ClickCounts(context.Context, []int64, time.Time) (map[int64]int64, error) {
	return map[int64]int64{}, nil
}
func (s *stubCampaigns) ConfirmedCounts(context.Context, []int64, time.Time) (map[int64]int64, error) {
	return map[int64]int64{}, nil
}

func newRedirectFixture(t *testing.T) (*redirect.Service, *token.Codec, *stubCampaigns) {
	t.Helper()
	mr := miniredis.RunT(t)
	rds := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rds.Close() })

	products := &stubProducts{byID: map[int64]*model.Product{
		42: {
			ID:          42,
			CustomerID:  7,
			URLRedirect: "https://lp.operator.example/sub?clickid=<TRACKING>",
			Active:      true,
			Country:     "cr",
			Operator:    "kolbi",
		},
	}}
	campaigns := &stubCampaigns{}
	codec := token.NewCodec(rds, token.Options{})
	engine := distribution.NewEngine(campaigns, distribution.DefaultConfig())
	svc := redirect.NewService(codec, products, campaigns, engine, zap.NewNop())
	return svc, codec, campaigns
}

func TestAdsHandler_RedirectsWithTracking(t *testing.T) {
	svc, codec, campaigns := newRedirectFixture(t)
	tok, _, err := codec.Encode(context.Background(), 42, 7, 24)
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ads/"+tok+"?tracker=pub-1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/ads/:token")
	c.SetParamNames("token")
	c.SetParamValues(tok)

	require.NoError(t, adsHandler(svc, routeDirect)(c))

	assert.Equal(t, http.StatusFound, rec.Code)
	loc := rec.Header().Get("Location")
	assert.Contains(t, loc, "clickid=pub-1")
	assert.Contains(t, loc, "xafra_id=")

	require.Len(t, campaigns.inserted, 1)
	assert.Equal(t, model.CampaignPending, campaigns.inserted[0].Status)
}

func TestAdsHandler_UnknownTokenIs404(t *testing.T) {
	svc, _, campaigns := newRedirectFixture(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ads/bogus", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/ads/:token")
	c.SetParamNames("token")
	c.SetParamValues("bogus")

	require.NoError(t, adsHandler(svc, routeDirect)(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, campaigns.inserted)
}

// --- token utility endpoints ---

func TestDecryptHandler_StatusCodes(t *testing.T) {
	mr := miniredis.RunT(t)
	rds := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rds.Close() })

	base := time.Now()
	codec := token.NewCodec(rds, token.Options{}).WithClock(func() time.Time { return base })
	e := echo.New()

	do := func(encryptedID string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(map[string]string{"encrypted_id": encryptedID})
		req := httptest.NewRequest(http.MethodPost, "/util/decrypt", strings.NewReader(string(body)))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		require.NoError(t, decryptHandler(codec)(e.NewContext(req, rec)))
		return rec
	}

	assert.Equal(t, http.StatusNotFound, do("missing").Code)

	tok, _, err := codec.Encode(context.Background(), 42, 7, 24)
	require.NoError(t, err)

	rec := do(tok)
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp decryptResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.ProductID)
	assert.Equal(t, int64(7), resp.CustomerID)
	assert.True(t, resp.IsValid)
	assert.InDelta(t, 24*60, resp.TimeRemainingMinutes, 2)

	base = base.Add(25 * time.Hour)
	assert.Equal(t, http.StatusGone, do(tok).Code)
}

type stubCustomers struct {
	byKey map[string]*model.Customer
}

func (s *stubCustomers) GetByAPIKey(_ context.Context, key string) (*model.Customer, error) {
	return s.byKey[key], nil
}

func TestEncryptHandler_ZeroHoursNeverExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	rds := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rds.Close() })

	customers := &stubCustomers{byKey: map[string]*model.Customer{
		"key-7": {ID: 7, Status: model.CustomerActive},
	}}
	products := &stubProducts{byID: map[int64]*model.Product{
		42: {ID: 42, CustomerID: 7, URLRedirect: "https://lp.example/?c=<TRACKING>", Active: true},
	}}
	base := time.Now()
	codec := token.NewCodec(rds, token.Options{}).WithClock(func() time.Time { return base })
	e := echo.New()

	do := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/util/encrypt", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		require.NoError(t, encryptHandler(customers, products, codec, 24)(e.NewContext(req, rec)))
		return rec
	}

	// explicit 0 means never expires: null expires_at, still decodable far out
	rec := do(`{"apikey":"key-7","product_id":42,"expire_hours":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp encryptResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.ExpiresAt)

	base = base.Add(1000 * 24 * time.Hour)
	dec, err := codec.Decode(context.Background(), resp.EncryptedID)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), dec.TimeRemainingMinutes)

	// absent field falls back to the default TTL
	rec = do(`{"apikey":"key-7","product_id":42}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = encryptResp{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.ExpiresAt)
	assert.WithinDuration(t, base.Add(24*time.Hour), *resp.ExpiresAt, time.Minute)

	// negative is rejected
	assert.Equal(t, http.StatusBadRequest, do(`{"apikey":"key-7","product_id":42,"expire_hours":-1}`).Code)
}

// --- inbound webhook gate ---

func newConfirmService(t *testing.T) (*confirm.Service, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db := sqlx.NewDb(mockDB, "mysql")
	svc := confirm.NewService(
		db,
		repository.NewCustomersRepository(db),
		repository.NewCampaignsRepository(db),
		repository.NewOutboxRepository(db),
		"postback.send",
		zap.NewNop(),
	)
	return svc, mock
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, h echo.HandlerFunc, source, sig, ts string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/receive/"+source, strings.NewReader(string(body)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if sig != "" {
		req.Header.Set(signatureHeader, sig)
	}
	if ts != "" {
		req.Header.Set(timestampHeader, ts)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/webhooks/receive/:source")
	c.SetParamNames("source")
	c.SetParamValues(source)
	require.NoError(t, h(c))
	return rec
}

func TestReceiveWebhook_RejectsBadSignatures(t *testing.T) {
	svc, _ := newConfirmService(t)
	verifier := signature.NewVerifier([]signature.Source{
		{Name: "movistar-pe", Secret: "s3cret", MaxAgeSeconds: 300, APIKey: "key-abc"},
	})
	h := receiveWebhookHandler(verifier, svc)

	body := []byte(`{"tracking":"pub-49281"}`)
	ts := time.Now().Unix()

	// unknown source
	rec := postWebhook(t, h, "nosuch", signBody("s3cret", body), strconv.FormatInt(ts, 10), body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// wrong secret
	rec = postWebhook(t, h, "movistar-pe", signBody("wrong", body), strconv.FormatInt(ts, 10), body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// missing timestamp
	rec = postWebhook(t, h, "movistar-pe", signBody("s3cret", body), "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReceiveWebhook_ValidSignatureConfirms(t *testing.T) {
	svc, mock := newConfirmService(t)
	verifier := signature.NewVerifier([]signature.Source{
		{Name: "movistar-pe", Secret: "s3cret", MaxAgeSeconds: 300, APIKey: "key-abc"},
	})
	h := receiveWebhookHandler(verifier, svc)

	mock.ExpectQuery("SELECT id, name, api_key").WithArgs("key-abc").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "api_key", "status", "country", "operator", "rate_limit_rps", "created_at", "updated_at",
		}).AddRow(3, "gomovil", "key-abc", model.CustomerActive, "cr", "kolbi", nil, time.Now(), time.Now()))
	mock.ExpectQuery("FROM campaigns c").WithArgs("pub-49281", "pub-49281", int64(3), model.CampaignDeleted).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "product_id", "tracking", "xafra_tracking_id", "uuid", "short_tracking",
			"country", "operator", "status", "postback_status", "postback_sent_at",
			"confirm_meta", "creation_date", "modification_date",
		}).AddRow(77, 42, "pub-49281", "01J0XYZ", "uuid-1", nil,
			"cr", "kolbi", model.CampaignPending, model.PostbackNotSent, nil, nil, time.Now(), time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE campaigns").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO outbox").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	body := []byte(`{"tracking":"pub-49281"}`)
	ts := time.Now().Unix()
	rec := postWebhook(t, h, "movistar-pe", signBody("s3cret", body), strconv.FormatInt(ts, 10), body)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "confirmed", resp["status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
