package sampler

import "github.com/evanreyes/promptloom/internal/engine/task"

// builtinText is a small fixed corpus of chat prompts. Order is
// significant: iteration is deterministic for a given task id.
var builtinText = []task.Record{
	{ID: "text-1", Prompt: "Summarize the plot of a short mystery story in three sentences."},
	{ID: "text-2", Prompt: "Explain the difference between TCP and UDP to a beginner."},
	{ID: "text-3", Prompt: "Write a haiku about distributed systems."},
	{ID: "text-4", Prompt: "List five edge cases to test for a rate limiter."},
	{ID: "text-5", Prompt: "Translate 'good morning' into French, Spanish, and German."},
	{ID: "text-6", Prompt: "Describe the CAP theorem in two sentences."},
	{ID: "text-7", Prompt: "Give a one-paragraph explanation of how HTTP/2 multiplexing works."},
	{ID: "text-8", Prompt: "Propose a name for a new open-source logging library."},
}

// transparentPixelPNG is an embedded 1x1 PNG, base64 encoded, that
// builtinVision pairs with short prompts so the payload shape
// exercises image_path without requiring network fixtures.
var transparentPixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNk+A8AAQUBAScY42YAAAAASUVORK5CYII="

var builtinVision = []task.Record{
	{ID: "vision-1", Prompt: "Describe what is in this image.", Image: transparentPixelPNG},
	{ID: "vision-2", Prompt: "Is there any text visible in this image?", Image: transparentPixelPNG},
	{ID: "vision-3", Prompt: "What is the dominant color of this image?", Image: transparentPixelPNG},
}

// builtinShareGPT mimics multi-turn conversational prompts collapsed
// to the final user turn, the shape the Sampler hands to the Shaper.
var builtinShareGPT = []task.Record{
	{ID: "sharegpt-1", Prompt: "Continuing from before, can you give a concrete code example?"},
	{ID: "sharegpt-2", Prompt: "That makes sense. What would the equivalent look like in Go?"},
	{ID: "sharegpt-3", Prompt: "Thanks. Now explain why the first approach is slower."},
	{ID: "sharegpt-4", Prompt: "Can you summarize everything we discussed into a checklist?"},
}
