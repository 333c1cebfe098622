package schema

var tierEnum = []string{"V0", "V1"}
var levelEnum = []string{"low", "med", "high"}

// Scope is the contract for scope generation.
var Scope = Object("",
	Req("features", Array("List of product features, categorized into V0 (MVP) and V1 (roadmap).",
		Object("",
			Req("id", String("A unique identifier for the feature, e.g., 'feat-001'.")),
			Req("title", String("A short, descriptive title for the feature.")),
			Req("tier", Enum("The feature tier: 'V0' for MVP, 'V1' for roadmap.", tierEnum...)),
			Req("acceptanceCriteria", Array("A list of concrete, testable acceptance criteria for the feature.",
				Object("",
					Req("id", String("A unique identifier for the AC, e.g., 'ac-001-1'.")),
					Req("description", String("The text of the acceptance criterion.")),
				),
			)),
		),
	)),
	Req("testSpecs", Array("Deterministic, pytest-ready test specifications for each feature.",
		Object("",
			Req("featureId", String("The ID of the feature this test spec relates to.")),
			Req("fileName", String("A pytest-compatible file name, e.g., 'test_feature_auth.py'.")),
			Req("code", String("The Python code for the test spec, including imports and placeholder functions.")),
		),
	)),
	Req("codeTemplates", Array("Minimal code templates or stubs for implementing each feature.",
		Object("",
			Req("featureId", String("The ID of the feature this code template relates to.")),
			Req("fileName", String("A suggested file name for the code, e.g., 'auth_service.py'.")),
			Req("language", String("The programming language of the code, e.g., 'python' or 'typescript'.")),
			Req("code", String("The code template or stub.")),
		),
	)),
)

// Proposal is the contract for feature proposal.
var Proposal = Object("",
	Req("candidates", Array("A list of proposed new features.",
		Object("",
			Req("id", String("A unique ID for the proposal, e.g., 'PROPOSED-1'.")),
			Req("title", String("A short name for the proposed feature.")),
			Req("tier_suggestion", Enum("'V0' or 'V1'.", tierEnum...)),
			Req("rationale", String("1-2 lines explaining why this feature is proposed.")),
			Req("impacts", Object("",
				Req("cold_start_ms", String("Estimated change in cold start time, e.g., '+50' or '-10'.")),
				Req("p99_latency_ms", String("Estimated change in p99 latency, e.g., '+100' or '0'.")),
				Req("cost", Enum("'low', 'med', or 'high'.", levelEnum...)),
			)),
			Req("risk", Enum("'low', 'med', or 'high'.", levelEnum...)),
			Req("acs", Array("List of acceptance criteria for the proposed feature.", String(""))),
			Opt("depends_on", Array("Optional list of feature IDs it depends on.", String(""))),
			Req("constraints_ok", Boolean("Whether the proposal meets the given constraints.")),
			Opt("conflicts", Array("Optional list of conflict explanations.", String(""))),
		),
	)),
)

// Analysis is the contract for scope health analysis.
var Analysis = Object("",
	Req("issues", Array("",
		Object("",
			Req("id", String("Unique identifier for the issue.")),
			Req("severity", Enum("Severity of the issue.", "critical", "warning", "info")),
			Req("message", String("A clear description of the issue found.")),
			Req("location", Object("",
				Req("type", String("The type of rule or check that triggered the issue.")),
				Opt("feature_id", String("The ID of the feature where the issue was found.")),
				Opt("ac_index", Integer("The index of the acceptance criterion related to the issue, if applicable.")),
			)),
			Req("proposed_fix", Object("",
				Req("summary", String("A summary of the proposed fix.")),
				Opt("action", String("The suggested action to take (e.g., 'modify', 'add_ac').")),
				Opt("updated_text", String("The new or updated text for a feature or AC, if applicable.")),
			)),
		),
	)),
	Opt("score", Number("An overall health score for the scope, out of 100.")),
	Opt("notes", String("General notes or summary of the analysis.")),
)

// TestPlan is the contract for test-plan generation. payload and assertion
// values cross the boundary as strings that may encode JSON.
var TestPlan = Object("",
	Req("tests", Array("An array of test cases.",
		Object("",
			Req("id", String("Unique ID for the test case, e.g., 'T-1'.")),
			Req("tier", Enum("", tierEnum...)),
			Req("name", String("Test function name, pytest-style.")),
			Req("endpoint", String("The API endpoint to test.")),
			Req("preconditions", Array("Conditions that must be met before the test.", String(""))),
			Req("payload", String("A JSON string representing the request payload. Should be '{}' for an empty payload.")),
			Req("assertions", Array("",
				Object("",
					Req("type", String("Type of assertion, e.g., 'status', 'json_has_keys'.")),
					Opt("op", String("Operator, e.g., '==', '>'. Optional.")),
					Req("value", String("Value for assertion. Stringify complex types like numbers or arrays.")),
				),
			)),
		),
	)),
)
