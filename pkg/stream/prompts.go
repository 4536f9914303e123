package stream

// Task names with a dedicated system prompt.
const (
	TaskDocumentCode  = "document this code"
	TaskWriteUnitTest = "write a unit test"
)

const (
	documentCodePrompt = "You are an expert technical writer. Add clear, concise comments to the following code. Then, generate a markdown block with the function signature, a description of what it does, its parameters, and what it returns."
	unitTestPrompt     = "You are an expert software engineer specializing in testing. Write a simple, effective unit test for the following code using the Jest framework. Provide only the code block for the test."
	genericPrompt      = "You are a helpful AI assistant. Provide clear and accurate responses."
)

// SystemPrompt returns the prompt sent with task. Matching is exact.
func SystemPrompt(task string) string {
	switch task {
	case TaskDocumentCode:
		return documentCodePrompt
	case TaskWriteUnitTest:
		return unitTestPrompt
	default:
		return genericPrompt
	}
}
