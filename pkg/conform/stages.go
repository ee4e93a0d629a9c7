package conform

// Pipeline stage names. Findings carry the stage that produced them and runs
// record the last stage they entered.
const (
	StageStart      = "start"
	StageFetch      = "fetch"
	StagePreflight  = "preflight"
	StageMapping    = "mapping"
	StageGeneration = "generation"
	StageStructural = "structural_validation"
	StageHashing    = "hashing"
	StageReporting  = "reporting"
	StageDetectPack = "detect_pack"
	StagePersist    = "persistence"
)
