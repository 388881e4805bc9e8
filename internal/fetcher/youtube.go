package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/digest"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/metrics"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/retry"
)

const (
	defaultFeedURL   = "https://www.youtube.com/feeds/videos.xml"
	defaultPageURL   = "https://www.youtube.com"
	videosBatchSize  = 50
	shortMaxDuration = 60 * time.Second
	maxPageBytes     = 4 << 20
)

var (
	channelURLRe  = regexp.MustCompile(`youtube\.com/channel/([A-Za-z0-9_-]+)`)
	handleURLRe   = regexp.MustCompile(`youtube\.com/@([A-Za-z0-9_.-]+)`)
	legacyURLRe   = regexp.MustCompile(`youtube\.com/(c|user)/([A-Za-z0-9_.-]+)`)
	bareHandleRe  = regexp.MustCompile(`^@([A-Za-z0-9_.-]+)$`)
	bareChannelRe = regexp.MustCompile(`^UC[A-Za-z0-9_-]{22}$`)
	externalIDRe  = regexp.MustCompile(`"externalId":"([A-Za-z0-9_-]+)"`)
	pageChannelRe = regexp.MustCompile(`"channelId":"([A-Za-z0-9_-]+)"`)
	isoDurationRe = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)
)

// channelRef is a parsed channel reference. Exactly one of id, handle or
// legacy is set; legacy keeps the "c/name" or "user/name" path.
type channelRef struct {
	id     string
	handle string
	legacy string
	name   string
}

func parseChannelRef(ref string) (channelRef, error) {
	ref = strings.TrimSpace(ref)
	if m := channelURLRe.FindStringSubmatch(ref); m != nil {
		return channelRef{id: m[1]}, nil
	}
	if m := handleURLRe.FindStringSubmatch(ref); m != nil {
		return channelRef{handle: m[1]}, nil
	}
	if m := legacyURLRe.FindStringSubmatch(ref); m != nil {
		return channelRef{legacy: m[1] + "/" + m[2], name: m[2]}, nil
	}
	if m := bareHandleRe.FindStringSubmatch(ref); m != nil {
		return channelRef{handle: m[1]}, nil
	}
	if bareChannelRe.MatchString(ref) {
		return channelRef{id: ref}, nil
	}
	return channelRef{}, fmt.Errorf("youtube: unrecognized channel reference %q", ref)
}

// YouTubeConfig configures a YouTubeSource. Empty URLs use the public
// YouTube endpoints.
type YouTubeConfig struct {
	APIKey        string
	MaxUploads    int
	MaxComments   int
	IncludeShorts bool
	HTTPClient    *http.Client
	FeedURL       string
	PageURL       string
	Retry         retry.Config
	Logger        zerolog.Logger
}

// YouTubeSource lists uploads from channel feeds and, when an API key is
// configured, enriches them through the YouTube Data API.
type YouTubeSource struct {
	api           *youtube.Service
	client        *http.Client
	feedURL       string
	pageURL       string
	maxUploads    int
	maxComments   int
	includeShorts bool
	retry         retry.Config
	logger        zerolog.Logger

	resolved sync.Map
}

// NewYouTubeSource builds a source. Without an API key, handles resolve by
// scraping the channel page and uploads carry only feed data. opts replace
// the default API client options.
func NewYouTubeSource(ctx context.Context, cfg YouTubeConfig, opts ...option.ClientOption) (*YouTubeSource, error) {
	s := &YouTubeSource{
		client:        cfg.HTTPClient,
		feedURL:       cfg.FeedURL,
		pageURL:       strings.TrimSuffix(cfg.PageURL, "/"),
		maxUploads:    cfg.MaxUploads,
		maxComments:   cfg.MaxComments,
		includeShorts: cfg.IncludeShorts,
		retry:         cfg.Retry,
		logger:        cfg.Logger.With().Str("component", "youtube").Logger(),
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: 30 * time.Second}
	}
	if s.feedURL == "" {
		s.feedURL = defaultFeedURL
	}
	if s.pageURL == "" {
		s.pageURL = defaultPageURL
	}
	if s.retry == (retry.Config{}) {
		s.retry = retry.DefaultConfig()
	}

	if cfg.APIKey != "" {
		if len(opts) == 0 {
			opts = []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
		}
		api, err := youtube.NewService(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("youtube: failed to create API client: %w", err)
		}
		s.api = api
	}
	return s, nil
}

// Fetch lists the channel's recent uploads. Uploads published after since are
// enriched with statistics, duration and top comments when the API is available.
func (s *YouTubeSource) Fetch(ctx context.Context, ref string, since time.Time) ([]digest.Upload, error) {
	channelID, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	uploads, err := s.fetchFeed(ctx, channelID)
	metrics.ObserveNetworkRequest("youtube", "feed", start, err)
	if err != nil {
		return nil, err
	}

	if !s.includeShorts {
		uploads = dropShortURLs(uploads)
	}

	if s.api == nil {
		return uploads, nil
	}

	var fresh []int
	for i, u := range uploads {
		if u.PublishedAt.After(since) {
			fresh = append(fresh, i)
		}
	}
	if len(fresh) == 0 {
		return uploads, nil
	}

	shorts := s.enrich(ctx, uploads, fresh)
	if !s.includeShorts && len(shorts) > 0 {
		kept := uploads[:0]
		for _, u := range uploads {
			if !shorts[u.ID] {
				kept = append(kept, u)
			}
		}
		uploads = kept
	}
	return uploads, nil
}

func dropShortURLs(uploads []digest.Upload) []digest.Upload {
	kept := uploads[:0]
	for _, u := range uploads {
		if !strings.Contains(u.URL, "/shorts/") {
			kept = append(kept, u)
		}
	}
	return kept
}

func (s *YouTubeSource) resolve(ctx context.Context, ref string) (string, error) {
	if id, ok := s.resolved.Load(ref); ok {
		return id.(string), nil
	}

	parsed, err := parseChannelRef(ref)
	if err != nil {
		return "", err
	}

	id := parsed.id
	if id == "" && s.api != nil {
		id, err = s.resolveWithAPI(ctx, parsed)
		if err != nil {
			s.logger.Debug().Err(err).Str("channel", ref).Msg("API resolution failed, falling back to channel page")
		}
	}
	if id == "" {
		path := "@" + parsed.handle
		if parsed.legacy != "" {
			path = parsed.legacy
		}
		id, err = s.resolveFromPage(ctx, path)
		if err != nil {
			return "", err
		}
	}

	s.resolved.Store(ref, id)
	return id, nil
}

func (s *YouTubeSource) resolveWithAPI(ctx context.Context, ref channelRef) (string, error) {
	lookups := []func(*youtube.ChannelsListCall) *youtube.ChannelsListCall{}
	if ref.handle != "" {
		lookups = append(lookups, func(c *youtube.ChannelsListCall) *youtube.ChannelsListCall { return c.ForHandle(ref.handle) })
	}
	if ref.name != "" {
		lookups = append(lookups,
			func(c *youtube.ChannelsListCall) *youtube.ChannelsListCall { return c.ForUsername(ref.name) },
			func(c *youtube.ChannelsListCall) *youtube.ChannelsListCall { return c.ForHandle(ref.name) },
		)
	}

	for _, lookup := range lookups {
		var resp *youtube.ChannelListResponse
		err := s.callAPI(ctx, "channels_list", func(ctx context.Context) error {
			var err error
			resp, err = lookup(s.api.Channels.List([]string{"id"})).Context(ctx).Do()
			return err
		})
		if err != nil {
			return "", err
		}
		if len(resp.Items) > 0 && resp.Items[0].Id != "" {
			return resp.Items[0].Id, nil
		}
	}
	return "", errors.New("youtube: channel not found")
}

func (s *YouTubeSource) resolveFromPage(ctx context.Context, path string) (string, error) {
	pageURL := s.pageURL + "/" + path

	var page []byte
	start := time.Now()
	err := retry.WithBackoff(ctx, s.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return fmt.Errorf("youtube: failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", "Mozilla/5.0")

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("youtube: channel page request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return &retry.StatusError{Service: "youtube page", Code: resp.StatusCode}
		}
		page, err = io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
		if err != nil {
			return fmt.Errorf("youtube: failed to read channel page: %w", err)
		}
		return nil
	})
	metrics.ObserveNetworkRequest("youtube", "channel_page", start, err)
	if err != nil {
		return "", err
	}

	for _, re := range []*regexp.Regexp{externalIDRe, pageChannelRe} {
		if m := re.FindSubmatch(page); m != nil {
			return string(m[1]), nil
		}
	}
	return "", fmt.Errorf("youtube: no channel id found on %s", pageURL)
}

// enrich fills statistics, duration, description and comments for the uploads
// at the given indexes. It returns the IDs of uploads identified as Shorts.
// Failures degrade to feed data.
func (s *YouTubeSource) enrich(ctx context.Context, uploads []digest.Upload, indexes []int) map[string]bool {
	byID := make(map[string]int, len(indexes))
	ids := make([]string, 0, len(indexes))
	for _, i := range indexes {
		byID[uploads[i].ID] = i
		ids = append(ids, uploads[i].ID)
	}

	shorts := make(map[string]bool)
	for batchStart := 0; batchStart < len(ids); batchStart += videosBatchSize {
		batch := ids[batchStart:min(batchStart+videosBatchSize, len(ids))]

		var resp *youtube.VideoListResponse
		err := s.callAPI(ctx, "videos_list", func(ctx context.Context) error {
			var err error
			resp, err = s.api.Videos.List([]string{"snippet", "statistics", "contentDetails"}).
				Id(batch...).
				Context(ctx).
				Do()
			return err
		})
		if err != nil {
			s.logger.Warn().Err(err).Int("videos", len(batch)).Msg("video details unavailable, using feed data")
			continue
		}

		for _, item := range resp.Items {
			i, ok := byID[item.Id]
			if !ok {
				continue
			}
			u := &uploads[i]
			if item.Statistics != nil {
				u.Views = int64(item.Statistics.ViewCount)
				u.Likes = int64(item.Statistics.LikeCount)
				u.CommentCount = int64(item.Statistics.CommentCount)
			}
			if item.Snippet != nil && strings.TrimSpace(item.Snippet.Description) != "" {
				u.Description = strings.TrimSpace(item.Snippet.Description)
			}
			if item.ContentDetails != nil {
				if d, ok := parseISODuration(item.ContentDetails.Duration); ok {
					u.Duration = d
					if d > 0 && d < shortMaxDuration {
						shorts[u.ID] = true
					}
				}
			}
		}
	}

	if s.maxComments <= 0 {
		return shorts
	}
	for _, i := range indexes {
		u := &uploads[i]
		if shorts[u.ID] && !s.includeShorts {
			continue
		}
		comments, err := s.comments(ctx, u.ID)
		if err != nil {
			// Disabled comments surface as 403 and are common.
			s.logger.Debug().Err(err).Str("video", u.ID).Msg("comments unavailable")
			continue
		}
		u.Comments = comments
	}
	return shorts
}

func (s *YouTubeSource) comments(ctx context.Context, videoID string) ([]string, error) {
	var resp *youtube.CommentThreadListResponse
	err := s.callAPI(ctx, "comment_threads_list", func(ctx context.Context) error {
		var err error
		resp, err = s.api.CommentThreads.List([]string{"snippet"}).
			VideoId(videoID).
			Order("relevance").
			TextFormat("plainText").
			MaxResults(int64(s.maxComments)).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Snippet == nil || item.Snippet.TopLevelComment == nil || item.Snippet.TopLevelComment.Snippet == nil {
			continue
		}
		text := strings.TrimSpace(item.Snippet.TopLevelComment.Snippet.TextDisplay)
		if text != "" {
			out = append(out, text)
		}
	}
	return out, nil
}

// callAPI runs one Data API call with retries, translating googleapi errors
// into retry.StatusError so 429 and 5xx are retried and 4xx are not.
func (s *YouTubeSource) callAPI(ctx context.Context, operation string, call func(context.Context) error) error {
	start := time.Now()
	err := retry.WithBackoff(ctx, s.retry, func(ctx context.Context) error {
		err := call(ctx)
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return &retry.StatusError{Service: "youtube api", Code: apiErr.Code, Message: apiErr.Message}
		}
		return err
	})
	metrics.ObserveNetworkRequest("youtube", operation, start, err)
	return err
}

// parseISODuration parses the ISO 8601 durations the Data API reports, such
// as PT1H2M30S or P1DT5M.
func parseISODuration(s string) (time.Duration, bool) {
	m := isoDurationRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil || s == "P" || s == "PT" {
		return 0, false
	}
	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
	var total time.Duration
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, false
		}
		total += time.Duration(n) * unit
	}
	return total, true
}
