package types

// Version is the canonical project version.
// The CLI, the dev server and the transcript format share this version.
const Version = "0.3.0"

// TranscriptVersion is the transcript record format version. It moves in
// lockstep with Version.
const TranscriptVersion = Version
