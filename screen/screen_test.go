package screen_test

import (
	"testing"

	"nostrfeed/screen"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasEnoughLetters(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected bool
	}{
		{
			name:     "empty string",
			text:     "",
			expected: false,
		},
		{
			name:     "only special characters",
			text:     "!@#$%^&*()",
			expected: false,
		},
		{
			name:     "few letters",
			text:     "hi! :) 123456789",
			expected: false,
		},
		{
			name:     "regular letters",
			text:     "Dette er en normal norsk tekst",
			expected: true,
		},
		{
			name:     "non ascii letters",
			text:     "Blåbær og røde æbler på trærne",
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, screen.HasEnoughLetters(tt.text))
		})
	}
}

func TestContainsRepetitivePattern(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected bool
	}{
		{
			name:     "empty string",
			text:     "",
			expected: false,
		},
		{
			name:     "short text",
			text:     "hi",
			expected: false,
		},
		{
			name:     "normal text",
			text:     "This is a normal post without repetition",
			expected: false,
		},
		{
			name:     "repeating characters",
			text:     "hellooooooo",
			expected: true,
		},
		{
			name:     "repeating words with case variation",
			text:     "Hello HELLO hello HeLLo",
			expected: true,
		},
		{
			name:     "repeating emoji",
			text:     "🎉🎉🎉🎉🎉",
			expected: true,
		},
		{
			name:     "repeating two symbols",
			text:     "sksksksksksksksk what is this",
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, screen.ContainsRepetitivePattern(tt.text))
		})
	}
}

func TestContainsSpamContent(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected bool
	}{
		{
			name:     "empty string",
			text:     "",
			expected: false,
		},
		{
			name:     "normal text",
			text:     "This is a normal post about my day",
			expected: false,
		},
		{
			name:     "promotional link",
			text:     "Check out my OnlyFans.com profile",
			expected: true,
		},
		{
			name:     "follow spam",
			text:     "Follow me! Follow back! F4F",
			expected: true,
		},
		{
			name:     "excessive hashtags",
			text:     "#follow #me #please #right #now #trending #viral",
			expected: true,
		},
		{
			name:     "excessive mentions",
			text:     "@user1 @user2 @user3 @user4 @user5 @user6",
			expected: true,
		},
		{
			name:     "excessive emojis",
			text:     "Hey! 😊😍🥰😘😚😋😛😝😜",
			expected: true,
		},
		{
			name:     "repeated hashtags",
			text:     "##trending",
			expected: true,
		},
		{
			name:     "high hashtag ratio",
			text:     "Hi #nostr #zaps #now",
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, screen.ContainsSpamContent(tt.text))
		})
	}
}

func TestIsSpam(t *testing.T) {
	assert.False(t, screen.IsSpam(""))
	assert.False(t, screen.IsSpam("Went for a long walk by the fjord this morning"))
	assert.True(t, screen.IsSpam("aaaaaaaaaa"))
	assert.True(t, screen.IsSpam("1234 5678 9999 !!!!"))
}

func TestNewLanguageDetectorRejectsUnknownCodes(t *testing.T) {
	_, err := screen.NewLanguageDetector([]string{"xx"})
	assert.Error(t, err)

	_, err = screen.NewLanguageDetector(nil)
	assert.Error(t, err)
}

func TestLanguageDetectorMatches(t *testing.T) {
	detector, err := screen.NewLanguageDetector([]string{"nb"})
	require.NoError(t, err)

	assert.True(t, detector.Matches("hei"), "short texts are accepted")
	assert.True(t, detector.Matches("Dette er en lang norsk setning om været og livet på landet i dag"))
	assert.False(t, detector.Matches("This is a long English sentence about the weather and life in the countryside today"))
}
