// Package media handles voice message envelopes and call audio. Voice
// messages travel as JSON envelopes of base64 Opus frames inside opaque
// message frames. Call audio is decoded with pion/opus (pure Go) and
// summarized as a smoothed level for display.
package media
