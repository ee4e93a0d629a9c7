package conform

// Reason codes are stable identifiers carried on every finding.
// They MUST NOT change between releases.
const (
	// --- Preflight: presence ---
	ReasonMissingRequiredField = "MISSING_REQUIRED_FIELD"
	ReasonMissingBorrower      = "MISSING_BORROWER"
	ReasonMissingProperty      = "MISSING_PROPERTY"

	// --- Preflight: enumerations ---
	ReasonEnumNotAllowed = "ENUM_NOT_ALLOWED"

	// --- Preflight: datatypes ---
	ReasonNotNumeric        = "NOT_NUMERIC"
	ReasonNotPositiveNumber = "NOT_POSITIVE_NUMBER"
	ReasonNotInteger        = "NOT_INTEGER"
	ReasonOutOfRange        = "OUT_OF_RANGE"
	ReasonInvalidEmail      = "INVALID_EMAIL"
	ReasonInvalidPostalCode = "INVALID_POSTAL_CODE"
	ReasonInvalidPhone      = "INVALID_PHONE"

	ReasonExtensionKeyCollision = "EXTENSION_KEY_COLLISION"

	// --- Preflight: conditional rules ---
	ReasonCashOutAmountMissing      = "CASH_OUT_AMOUNT_MISSING"
	ReasonCashOutAmountUnexpected   = "CASH_OUT_AMOUNT_UNEXPECTED"
	ReasonLoanExceedsValue          = "LOAN_EXCEEDS_VALUE"
	ReasonSecondLienWithoutFirstRef = "SECOND_LIEN_WITHOUT_FIRST_LIEN_REFERENCE"

	// --- Structural ---
	ReasonDocumentMalformed            = "DOCUMENT_MALFORMED"
	ReasonRootElementMismatch          = "ROOT_ELEMENT_MISMATCH"
	ReasonRootNamespaceMismatch        = "ROOT_NAMESPACE_MISMATCH"
	ReasonNamespaceMissing             = "NAMESPACE_MISSING"
	ReasonExtensionInStandardNamespace = "EXTENSION_IN_STANDARD_NAMESPACE"
	ReasonGrammarOrder                 = "GRAMMAR_ORDER"
	ReasonGrammarCardinality           = "GRAMMAR_CARDINALITY"
	ReasonGrammarUnexpectedElement     = "GRAMMAR_UNEXPECTED_ELEMENT"

	// --- Version ---
	ReasonVersionMissing       = "VERSION_MISSING"
	ReasonVersionIncompatible  = "VERSION_INCOMPATIBLE"
	ReasonVersionPatchMismatch = "VERSION_PATCH_MISMATCH"
	ReasonLDDMissing           = "LDD_MISSING"
	ReasonLDDMismatch          = "LDD_MISMATCH"
	ReasonBuildMismatch        = "BUILD_MISMATCH"

	// --- System ---
	ReasonEntityStoreUnavailable = "ENTITY_STORE_UNAVAILABLE" // fetch or create failed after retries
	ReasonDealNotFound           = "DEAL_NOT_FOUND"
	ReasonDealUndecodable        = "DEAL_UNDECODABLE"
	ReasonStagePanic             = "STAGE_PANIC" // recovered panic inside a stage
	ReasonStageFailed            = "STAGE_FAILED"
	ReasonRunCancelled           = "RUN_CANCELLED"
	ReasonRunTimedOut            = "RUN_TIMED_OUT"
	ReasonArtifactStoreFailed    = "ARTIFACT_STORE_FAILED"
	ReasonGenerationFailed       = "GENERATION_FAILED"
	ReasonMappingFailed          = "MAPPING_FAILED"
	ReasonRuleEvaluationFailed   = "RULE_EVALUATION_FAILED"
)
