package fetcher

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/digest"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/retry"
)

// YouTube channel Atom feed XML structures. Element names carry the yt and
// media namespaces the feed declares.

type channelFeed struct {
	XMLName xml.Name       `xml:"feed"`
	Title   string         `xml:"title"`
	Entries []channelEntry `xml:"entry"`
}

type channelEntry struct {
	VideoID   string        `xml:"http://www.youtube.com/xml/schemas/2015 videoId"`
	ChannelID string        `xml:"http://www.youtube.com/xml/schemas/2015 channelId"`
	Title     string        `xml:"title"`
	Links     []channelLink `xml:"link"`
	Published string        `xml:"published"`
	Group     mediaGroup    `xml:"http://search.yahoo.com/mrss/ group"`
}

type channelLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

type mediaGroup struct {
	Description string         `xml:"http://search.yahoo.com/mrss/ description"`
	Community   mediaCommunity `xml:"http://search.yahoo.com/mrss/ community"`
}

type mediaCommunity struct {
	Statistics struct {
		Views string `xml:"views,attr"`
	} `xml:"http://search.yahoo.com/mrss/ statistics"`
}

// fetchFeed downloads and parses the Atom feed of a channel.
func (s *YouTubeSource) fetchFeed(ctx context.Context, channelID string) ([]digest.Upload, error) {
	query := url.Values{}
	query.Set("channel_id", channelID)
	reqURL := fmt.Sprintf("%s?%s", s.feedURL, query.Encode())

	var body []byte
	err := retry.WithBackoff(ctx, s.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return fmt.Errorf("youtube: failed to create request: %w", err)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("youtube: feed request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return &retry.StatusError{Service: "youtube feed", Code: resp.StatusCode}
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("youtube: failed to read feed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return parseFeed(body, channelID, s.maxUploads)
}

func parseFeed(body []byte, channelID string, maxUploads int) ([]digest.Upload, error) {
	var feed channelFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("youtube: failed to parse feed XML: %w", err)
	}

	channelName := strings.TrimSpace(feed.Title)
	if channelName == "" {
		channelName = "Unknown"
	}

	uploads := make([]digest.Upload, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		if entry.VideoID == "" {
			continue
		}
		published, err := time.Parse(time.RFC3339, strings.TrimSpace(entry.Published))
		if err != nil {
			continue
		}

		var videoURL string
		for _, link := range entry.Links {
			if link.Rel == "alternate" {
				videoURL = link.Href
			}
		}
		if videoURL == "" {
			videoURL = "https://www.youtube.com/watch?v=" + entry.VideoID
		}

		id := entry.ChannelID
		if id == "" {
			id = channelID
		}
		views, _ := strconv.ParseInt(entry.Group.Community.Statistics.Views, 10, 64)

		uploads = append(uploads, digest.Upload{
			ID:          entry.VideoID,
			ChannelID:   id,
			Channel:     channelName,
			Title:       strings.TrimSpace(entry.Title),
			URL:         videoURL,
			Description: strings.TrimSpace(entry.Group.Description),
			PublishedAt: published.UTC(),
			Views:       views,
		})
		if maxUploads > 0 && len(uploads) >= maxUploads {
			break
		}
	}

	return uploads, nil
}
