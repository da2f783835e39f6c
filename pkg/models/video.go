package models

// VideoStatus represents the processing status of a video record.
type VideoStatus string

const (
	StatusPending    VideoStatus = "pending"
	StatusProcessing VideoStatus = "processing"
	StatusCompleted  VideoStatus = "completed"
	StatusFailed     VideoStatus = "failed"
)

// IsValid returns true if the status is a valid VideoStatus.
func (s VideoStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// SubtitleTrack describes one extracted subtitle stream.
type SubtitleTrack struct {
	TrackIndex int    `dynamodbav:"track_index" json:"trackIndex"`
	Language   string `dynamodbav:"language,omitempty" json:"language,omitempty"`
	Title      string `dynamodbav:"title,omitempty" json:"title,omitempty"`
	Codec      string `dynamodbav:"codec" json:"codec"`
	StorageKey string `dynamodbav:"storage_key" json:"storageKey"`
	IsDefault  bool   `dynamodbav:"is_default" json:"isDefault"`
	IsForced   bool   `dynamodbav:"is_forced" json:"isForced"`
}

// Attachment describes one extracted container attachment, typically a font.
type Attachment struct {
	Filename   string `dynamodbav:"filename" json:"filename"`
	Mimetype   string `dynamodbav:"mimetype" json:"mimetype"`
	StorageKey string `dynamodbav:"storage_key" json:"storageKey"`
}

// Chapter describes one chapter marker from the source container.
type Chapter struct {
	ChapterIndex int     `dynamodbav:"chapter_index" json:"chapterIndex"`
	StartTime    float64 `dynamodbav:"start_time" json:"startTime"`
	EndTime      float64 `dynamodbav:"end_time" json:"endTime"`
	Title        string  `dynamodbav:"title" json:"title"`
}

// AudioTrack describes one audio stream found in the source.
type AudioTrack struct {
	TrackIndex int    `dynamodbav:"track_index" json:"trackIndex"`
	Language   string `dynamodbav:"language,omitempty" json:"language,omitempty"`
	Title      string `dynamodbav:"title,omitempty" json:"title,omitempty"`
	Codec      string `dynamodbav:"codec" json:"codec"`
	Channels   int    `dynamodbav:"channels,omitempty" json:"channels,omitempty"`
	SampleRate int    `dynamodbav:"sample_rate,omitempty" json:"sampleRate,omitempty"`
	BitRate    int64  `dynamodbav:"bit_rate,omitempty" json:"bitRate,omitempty"`
	IsDefault  bool   `dynamodbav:"is_default" json:"isDefault"`
}

// VideoRecord is the finished-video metadata published as a single unit
// when a job completes.
type VideoRecord struct {
	VideoID         string          `dynamodbav:"video_id" json:"videoId"`
	Name            string          `dynamodbav:"name" json:"name"`
	Tags            []string        `dynamodbav:"tags,omitempty" json:"tags,omitempty"`
	DurationSeconds float64         `dynamodbav:"duration_seconds" json:"durationSeconds"`
	Resolutions     []string        `dynamodbav:"resolutions" json:"resolutions"`
	ManifestKey     string          `dynamodbav:"manifest_key" json:"manifestKey"`
	PlaybackURL     string          `dynamodbav:"playback_url,omitempty" json:"playbackUrl,omitempty"`
	ThumbnailKey    string          `dynamodbav:"thumbnail_key,omitempty" json:"thumbnailKey,omitempty"`
	SpriteKey       string          `dynamodbav:"sprite_key,omitempty" json:"spriteKey,omitempty"`
	Subtitles       []SubtitleTrack `dynamodbav:"-" json:"subtitles,omitempty"`
	Attachments     []Attachment    `dynamodbav:"-" json:"attachments,omitempty"`
	Chapters        []Chapter       `dynamodbav:"-" json:"chapters,omitempty"`
	AudioTracks     []AudioTrack    `dynamodbav:"-" json:"audioTracks,omitempty"`
}
