package notification

import (
	"encoding/json"
	"fmt"
)

// PushContent is the visible part of a browser notification.
type PushContent struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// PushPayload is the JSON document the service worker receives.
type PushPayload struct {
	Notification PushContent `json:"notification"`
	Data         Envelope    `json:"data"`
}

// DefaultIcon is shown when the notification has no actor avatar.
const DefaultIcon = "/assets/icons/icon-192x192.png"

// Render derives the human-facing push content for s.
func Render(s Snapshot) PushContent {
	c := PushContent{Icon: DefaultIcon, Tag: string(s.Kind()) + ":" + s.Meta().ID}
	switch v := s.(type) {
	case Like:
		c.Title = fmt.Sprintf("%s liked your post", v.Actor.Name())
		c.Body, c.URL = v.Post.Text, v.Post.URL
		c.Icon = iconFor(v.Actor)
	case Follow:
		c.Title = fmt.Sprintf("%s followed you", v.Actor.Name())
		c.Icon = iconFor(v.Actor)
	case Repost:
		c.Title = fmt.Sprintf("%s reposted your post", v.Actor.Name())
		c.Body, c.URL = v.Post.Text, v.Post.URL
		c.Icon = iconFor(v.Actor)
	case Reply:
		c.Title = fmt.Sprintf("%s replied to you", v.Actor.Name())
		c.Body, c.URL = v.Post.Text, v.Post.URL
		c.Icon = iconFor(v.Actor)
	case Quote:
		c.Title = fmt.Sprintf("%s quoted your post", v.Actor.Name())
		c.Body, c.URL = v.Post.Text, v.Post.URL
		c.Icon = iconFor(v.Actor)
	case Mention:
		c.Title = fmt.Sprintf("%s mentioned you", v.Actor.Name())
		c.Body, c.URL = v.Post.Text, v.Post.URL
		c.Icon = iconFor(v.Actor)
	case Info:
		c.Title, c.Body, c.URL = v.Title, v.Body, v.URL
	case Violation:
		c.Title = "Your content was found to violate our rules"
		c.Body = v.Reason
		if v.Post != nil {
			c.URL = v.Post.URL
		}
	}
	return c
}

func iconFor(a Actor) string {
	if a.AvatarURL != "" {
		return a.AvatarURL
	}
	return DefaultIcon
}

// EncodePush renders s and encodes the payload handed to the push dispatcher.
func EncodePush(s Snapshot) ([]byte, error) {
	payload, err := json.Marshal(PushPayload{Notification: Render(s), Data: Envelope{s}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal push payload: %w", err)
	}
	return payload, nil
}
