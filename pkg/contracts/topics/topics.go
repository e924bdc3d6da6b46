package topics

const (
	// Matchmaking
	MatchCreated = "match_created"

	// Ciclo de vida do match
	MatchFinished = "match_finished"
	MatchSettled  = "match_settled"

	// DLQs
	MatchFinishedDLQ = "match_finished_dlq"
)
