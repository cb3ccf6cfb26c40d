package feeds

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lcalzada-xor/vulnintel/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = retry.Policy{Attempts: 3, Min: time.Millisecond, Max: time.Millisecond}

func testClient(headers map[string]string) *Client {
	return NewClient(ClientOptions{Headers: headers, Retry: fastRetry})
}

func TestClient_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	var out struct{ OK bool }
	require.NoError(t, testClient(nil).GetJSON(context.Background(), srv.URL, nil, &out))
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := testClient(nil).GetJSON(context.Background(), srv.URL, nil, &struct{}{})
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_SendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("apiKey"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	require.NoError(t, testClient(map[string]string{"apiKey": "secret"}).GetJSON(context.Background(), srv.URL, nil, &struct{}{}))
}

func nvdEntry(id, modified, metrics string) string {
	return fmt.Sprintf(`{"cve":{"id":%q,"published":"2024-01-01T10:00:00.000","lastModified":%q,
		"descriptions":[{"lang":"es","value":"descripcion"},{"lang":"en","value":"Description of %s"}],
		"metrics":{%s},"references":[{"url":"https://example.com/%s"}]}}`, id, modified, id, metrics, id)
}

func TestNVDFeed_Pagination(t *testing.T) {
	pages := [][]string{
		{
			nvdEntry("CVE-2024-0001", "2024-01-10T00:00:00.000",
				`"cvssMetricV31":[{"cvssData":{"baseScore":9.8,"vectorString":"CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H"}}],
				 "cvssMetricV40":[{"cvssData":{"baseScore":9.3,"vectorString":"CVSS:4.0/AV:N"}}]`),
			nvdEntry("CVE-2024-0002", "2024-01-11T00:00:00.000",
				`"cvssMetricV31":[{"cvssData":{"vectorString":"CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H"}}]`),
		},
		{
			nvdEntry("CVE-2024-0003", "not-a-date", ""),
		},
	}

	var requests []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.RawQuery)
		assert.NotEmpty(t, r.URL.Query().Get("lastModStartDate"))
		page := 0
		if r.URL.Query().Get("startIndex") == "2" {
			page = 1
		}
		fmt.Fprintf(w, `{"resultsPerPage":2,"startIndex":%d,"totalResults":3,"vulnerabilities":[%s]}`,
			page*2, strings.Join(pages[page], ","))
	}))
	defer srv.Close()

	feed := NewNVDFeed("", WithNVDURL(srv.URL), WithNVDPageSize(2))
	feed.client = testClient(nil)

	vulns, err := feed.FetchVulnerabilities(context.Background(), time.Now().Add(-48*time.Hour))
	require.NoError(t, err)
	assert.Len(t, requests, 2)
	require.Len(t, vulns, 2, "entry with a malformed timestamp is dropped")

	assert.Equal(t, "CVE-2024-0001", vulns[0].ID)
	assert.Equal(t, "Description of CVE-2024-0001", vulns[0].Description)
	require.NotNil(t, vulns[0].Severity)
	assert.Equal(t, 9.3, *vulns[0].Severity, "v4.0 takes priority over v3.1")
	assert.Equal(t, []string{"https://example.com/CVE-2024-0001"}, vulns[0].References)

	require.NotNil(t, vulns[1].Severity)
	assert.Equal(t, 9.8, *vulns[1].Severity, "score derived from the vector")
	assert.Equal(t, time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), vulns[1].LastModified)
}

func TestNVDFeed_Limit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("resultsPerPage"))
		fmt.Fprintf(w, `{"totalResults":50,"vulnerabilities":[%s]}`,
			nvdEntry("CVE-2024-0001", "2024-01-10T00:00:00.000", ""))
	}))
	defer srv.Close()

	feed := NewNVDFeed("", WithNVDURL(srv.URL), WithNVDLimit(1))
	feed.client = testClient(nil)

	vulns, err := feed.FetchVulnerabilities(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, vulns, 1)
	assert.Nil(t, vulns[0].Severity)
}

func TestVectorScore(t *testing.T) {
	score, ok := VectorScore("CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H")
	assert.True(t, ok)
	assert.Equal(t, 9.8, score)

	_, ok = VectorScore("AV:N/AC:L/Au:N/C:P/I:P/A:P")
	assert.False(t, ok)
	_, ok = VectorScore("CVSS:3.1/garbage")
	assert.False(t, ok)
}

func TestKEVFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"catalogVersion":"2024.03.01","count":3,"vulnerabilities":[
			{"cveID":"CVE-2024-0001","vendorProject":"Acme","product":"Gateway","vulnerabilityName":"Acme Gateway RCE",
			 "dateAdded":"2024-02-01","shortDescription":"RCE","requiredAction":"Patch","dueDate":"2024-02-22",
			 "knownRansomwareCampaignUse":"Known"},
			{"cveID":"CVE-2024-0002","vendorProject":"Acme","product":"VPN","vulnerabilityName":"Acme VPN",
			 "dateAdded":"yesterday","shortDescription":"x","requiredAction":"y","dueDate":"2024-02-22",
			 "knownRansomwareCampaignUse":"Unknown"},
			{"cveID":"","dateAdded":"2024-02-01"}
		]}`)
	}))
	defer srv.Close()

	feed := NewKEVFeed(srv.URL)
	feed.client = testClient(nil)

	entries, err := feed.FetchExploited(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Acme Gateway RCE", entries[0].VulnerabilityName)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), entries[0].DateAdded)
	assert.Equal(t, time.Date(2024, 2, 22, 0, 0, 0, 0, time.UTC), entries[0].DueDate)
}

func TestEPSSFeed_Batches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		ids := strings.Split(r.URL.Query().Get("cve"), ",")
		assert.LessOrEqual(t, len(ids), EPSSBatchSize)
		if n == 2 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		entries := make([]string, 0, len(ids))
		for _, id := range ids {
			entries = append(entries, fmt.Sprintf(`{"cve":%q,"epss":"0.5","percentile":0.75,"date":"2024-03-01"}`, id))
		}
		fmt.Fprintf(w, `{"status":"OK","data":[%s]}`, strings.Join(entries, ","))
	}))
	defer srv.Close()

	ids := make([]string, 250)
	for i := range ids {
		ids[i] = fmt.Sprintf("CVE-2024-%04d", i+1)
	}

	feed := NewEPSSFeed(srv.URL)
	feed.client = testClient(nil)
	feed.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	scores, err := feed.FetchScores(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, scores, 150, "the failed batch is skipped")
	assert.Equal(t, 0.5, scores[0].Score)
	assert.Equal(t, 0.75, scores[0].Percentile)
	assert.Equal(t, feed.now(), scores[0].FetchedAt)
}

func TestEPSSFeed_DropsIncompleteEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"cve":"CVE-2024-0001","epss":"0.1","percentile":"0.2"},{"cve":"CVE-2024-0002","percentile":"0.2"}]}`)
	}))
	defer srv.Close()

	feed := NewEPSSFeed(srv.URL)
	feed.client = testClient(nil)

	scores, err := feed.FetchScores(context.Background(), []string{"CVE-2024-0001", "CVE-2024-0002"})
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, "CVE-2024-0001", scores[0].CVEID)
}

func TestAbuseIPDBFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("Key"))
		switch r.URL.Path {
		case "/blacklist":
			assert.Equal(t, "90", r.URL.Query().Get("confidenceMinimum"))
			fmt.Fprint(w, `{"data":[
				{"ipAddress":"203.0.113.7","abuseConfidenceScore":100,"countryCode":"NL","lastReportedAt":"2024-03-01T10:00:00+00:00"},
				{"ipAddress":"203.0.113.8"}
			]}`)
		case "/check":
			fmt.Fprint(w, `{"data":{"ipAddress":"203.0.113.7","isPublic":true,"ipVersion":4,"isWhitelisted":false,
				"abuseConfidenceScore":100,"totalReports":2,"lastReportedAt":"2024-03-01T10:00:00+00:00",
				"reports":[{"reportedAt":"2024-03-01T10:00:00+00:00","comment":"ssh brute force","categories":[18,22],"reporterId":1}]}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	feed := NewAbuseIPDBFeed("key", srv.URL, 90, 100)
	feed.client = testClient(map[string]string{"Key": "key"})

	reps, err := feed.FetchReputations(context.Background())
	require.NoError(t, err)
	require.Len(t, reps, 1)
	assert.Equal(t, 100, reps[0].AbuseConfidenceScore)
	require.NotNil(t, reps[0].LastReportedAt)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), *reps[0].LastReportedAt)

	rep, err := feed.CheckIP(context.Background(), "203.0.113.7", 90)
	require.NoError(t, err)
	require.Len(t, rep.Reports, 1)
	assert.Equal(t, []int{18, 22}, rep.Reports[0].Categories)
	assert.Equal(t, 2, rep.TotalReports)
}

func TestAbuseIPDBFeed_RequiresKey(t *testing.T) {
	_, err := NewAbuseIPDBFeed("", "http://127.0.0.1:0", 90, 10).FetchReputations(context.Background())
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestParseTime(t *testing.T) {
	for _, s := range []string{"2024-01-10", "2024-01-10T00:00:00", "2024-01-10T00:00:00.000", "2024-01-10T01:00:00+01:00"} {
		got, err := parseTime(s)
		require.NoError(t, err, s)
		assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), got, s)
	}
	_, err := parseTime("10/01/2024")
	assert.Error(t, err)
}
