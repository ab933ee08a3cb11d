package indexer

// Prompts sent to the vision model during the deep round.
const (
	imagePrompt = `Describe this image in detail. Include any visible text verbatim, ` +
		`the main subjects, layout, charts or diagrams, and anything that would help ` +
		`someone find this image by searching for its content. Respond in plain text.`

	pdfPagePrompt = `Transcribe this document page. Reproduce all readable text faithfully, ` +
		`preserving headings and list structure. Summarize tables row by row and describe ` +
		`figures, charts and images in place. Respond in plain text without code fences.`

	presentationPrompt = `Describe this presentation slide in detail. Include the title, ` +
		`all bullet points and visible text, and describe any charts or images on the slide.`
)
