package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aura-webinar/collab/internal/models"
)

const videoParts = "snippet,liveStreamingDetails,statistics"

// YouTubeClient reads broadcast state from the YouTube Data API v3.
type YouTubeClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewYouTubeClient creates a client. baseURL is normally
// https://www.googleapis.com/youtube/v3.
func NewYouTubeClient(baseURL, apiKey string, httpClient *http.Client) *YouTubeClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &YouTubeClient{baseURL: baseURL, apiKey: apiKey, httpClient: httpClient}
}

type videoListResponse struct {
	Items []videoItem `json:"items"`
}

type videoItem struct {
	ID      string `json:"id"`
	Snippet struct {
		Title                string `json:"title"`
		LiveBroadcastContent string `json:"liveBroadcastContent"`
		Thumbnails           map[string]struct {
			URL string `json:"url"`
		} `json:"thumbnails"`
	} `json:"snippet"`
	LiveStreamingDetails *struct {
		ActualStartTime    *time.Time `json:"actualStartTime"`
		ActualEndTime      *time.Time `json:"actualEndTime"`
		ScheduledStartTime *time.Time `json:"scheduledStartTime"`
		ConcurrentViewers  string     `json:"concurrentViewers"`
	} `json:"liveStreamingDetails"`
	Statistics struct {
		ViewCount    string `json:"viewCount"`
		LikeCount    string `json:"likeCount"`
		CommentCount string `json:"commentCount"`
	} `json:"statistics"`
}

// FetchSignal fetches the current signal for videoID. A video that does not
// exist or is not a live broadcast yields IsValid false with a nil error;
// errors are reserved for transport and API failures.
func (c *YouTubeClient) FetchSignal(ctx context.Context, videoID string) (models.StreamSignal, error) {
	q := url.Values{}
	q.Set("part", videoParts)
	q.Set("id", videoID)
	q.Set("key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/videos?"+q.Encode(), nil)
	if err != nil {
		return models.StreamSignal{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.StreamSignal{}, fmt.Errorf("youtube videos: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.StreamSignal{}, fmt.Errorf("read videos response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return models.StreamSignal{}, fmt.Errorf("youtube videos: status %d: %s", resp.StatusCode, truncate(body, 256))
	}
	var list videoListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return models.StreamSignal{}, fmt.Errorf("decode videos response: %w", err)
	}
	if len(list.Items) == 0 {
		return models.StreamSignal{}, nil
	}
	return toSignal(list.Items[0]), nil
}

func toSignal(v videoItem) models.StreamSignal {
	s := models.StreamSignal{
		Title:        v.Snippet.Title,
		Thumbnail:    thumbnail(v),
		ViewCount:    parseCount(v.Statistics.ViewCount),
		LikeCount:    parseCount(v.Statistics.LikeCount),
		CommentCount: parseCount(v.Statistics.CommentCount),
	}
	d := v.LiveStreamingDetails
	if d == nil {
		return s
	}
	s.IsValid = true
	s.ScheduledStartTime = d.ScheduledStartTime
	switch v.Snippet.LiveBroadcastContent {
	case "live":
		s.IsLive = true
		if n := parseCount(d.ConcurrentViewers); n > 0 {
			s.ViewCount = n
		}
	case "upcoming":
		s.IsWaitingRoom = true
	}
	return s
}

func thumbnail(v videoItem) string {
	for _, size := range []string{"maxres", "high", "medium", "default"} {
		if t, ok := v.Snippet.Thumbnails[size]; ok && t.URL != "" {
			return t.URL
		}
	}
	return ""
}

func parseCount(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
