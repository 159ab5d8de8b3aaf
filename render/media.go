package render

import (
	"regexp"
	"strings"
)

var (
	imageURL = regexp.MustCompile(`(?i)\s*(https?://\S+\.(?:png|jpg|jpeg|gif|bmp))\s*`)
	videoURL = regexp.MustCompile(`(?i)\s*(https?://\S+\.(?:mp4|webm|ogg|mov))(\s*|$)`)
	audioURL = regexp.MustCompile(`(?i)\s*(https?://\S+\.(?:mp3))(\s*|$)`)
)

// ImageURLs turns image links into markdown images
func ImageURLs(content string) string {
	return imageURL.ReplaceAllString(content, " ![Image](${1}) ")
}

// VideoURLs turns video links into video elements
func VideoURLs(content string) string {
	return videoURL.ReplaceAllString(content, ` <video controls><source src="${1}" type="video/mp4"></video> `)
}

// AudioURLs turns audio links into audio elements
func AudioURLs(content string) string {
	return audioURL.ReplaceAllString(content, ` <audio controls src="${1}"></audio> `)
}

var smartyPants = strings.NewReplacer(
	"<<", "&laquo;",
	"«", "&laquo;",
	">>", "&raquo;",
	"»", "&raquo;",
	"...", "&hellip;",
	"---", "&mdash;",
	"--", "&mdash;",
)

// SmartyPants replaces ASCII punctuation sequences with typographic entities
func SmartyPants(content string) string {
	return smartyPants.Replace(content)
}
