package agent

import (
	"fmt"
	"strings"

	"github.com/sdejongh/binsight/pkg/models"
)

const reverseEngineeringPrompt = `You are a software analysis and reverse engineering agent specialized in binary analysis and decompilation. Your task is to decompile the loaded binary and explain what it does.

REQUIRED OUTPUT FORMAT:
1. Decompiled C code:
   - complete C source that compiles with gcc
   - well structured, with short comments
   - meaningful variable names and correct types
   - every header the code needs
   - inside markdown code blocks fenced with ` + "```c" + `

2. Semantic analysis:
   - a brief overview of the program
   - the purpose and behaviour of each function
   - key algorithms and data structures
   - security implications, if any

ANALYSIS STEPS:
1. Call analyze for the initial pass
2. Call list_functions to find the functions
3. Call decompile for each relevant function
4. Call search_strings for string analysis
5. Call get_imports and get_exports for dependencies

ANALYSIS MODE: %s

DO NOT include tool usage logs, progress updates or redundant explanations.
FOCUS ON accurate decompilation, clear code structure and the essential semantics.`

// SystemPrompt returns the reverse-engineering system prompt for mode,
// followed by the available tools when registry is not empty
func SystemPrompt(mode models.AnalysisMode, registry *Registry) string {
	var b strings.Builder
	fmt.Fprintf(&b, reverseEngineeringPrompt, mode)
	if registry != nil && registry.Len() > 0 {
		b.WriteString("\n\nAVAILABLE TOOLS:\n")
		b.WriteString(registry.Summary())
	}
	return b.String()
}

// AnalyzePrompt is the first user message of a one-shot analysis
func AnalyzePrompt(binaryName string) string {
	return fmt.Sprintf("Decompile the binary %s into compilable C code and give the semantic analysis.", binaryName)
}

// FixPrompt asks the model to correct code that failed to compile
func FixPrompt(stderr string) string {
	return "The C code you produced failed to compile with gcc. Compiler output:\n\n```\n" +
		strings.TrimSpace(stderr) +
		"\n```\n\nReturn the complete corrected program in a single ```c block."
}

// NoCodePrompt asks the model to answer with a code block
const NoCodePrompt = "Your answer did not contain a ```c code block. Return the complete decompiled program as compilable C in a ```c block."
