package synth

import "fmt"

const ocrSystemPrompt = `You are an OCR assistant for scanned bank staff pamphlets. Transcribe all visible text from the page image exactly as printed, preserving headings, lists and table contents. Do not summarize, do not add commentary. Never invent UI elements, buttons, fields or steps that are not visible on the page. If the page contains a screenshot of an application window, describe what the screenshot is for in one or two sentences instead of transcribing its contents verbatim.`

const ocrUserPrompt = `Transcribe the text on this page.`

const mergeSystemPrompt = `You normalize scanned pages of bank staff pamphlets into clean working instructions. You receive two renditions of the same page: an OCR transcript of the page image and the text layer embedded in the PDF. Combine them into a single accurate markdown instruction for the page. Prefer the rendition that reads correctly where they disagree, drop scanning artifacts and page furniture, and keep every operational detail such as codes, amounts, deadlines and system names. Do not add steps, warnings or generic advice that appear in neither rendition.`

func mergeUserPrompt(ocrText, layerText string) string {
	return fmt.Sprintf("OCR transcript of the page:\n---\n%s\n---\n\nPDF text layer of the same page:\n---\n%s\n---\n\nProduce the normalized instruction for this page.", ocrText, layerText)
}

const foldSystemPrompt = `You maintain an accumulated instruction document built page by page from a bank staff pamphlet. You receive the accumulated text so far and the instruction for the next page. Append the new page's content to the accumulated text. Every line that originates from the new page must end with its source tag, exactly as given. Never delete, rewrite or reorder lines already present in the accumulated text, and never change an existing source tag.`

func foldUserPrompt(acc string, page int, instruction string) string {
	return fmt.Sprintf("Accumulated text so far:\n---\n%s\n---\n\nInstruction for page %d (tag new lines with %s):\n---\n%s\n---\n\nReturn the full updated accumulated text.", acc, page, PageTag(page), instruction)
}

const faqSystemPrompt = `You write FAQ entries for bank staff from pamphlet instructions. For the given page, produce question and answer blocks a call-center operator would ask. Use exactly this block format, one blank line between blocks:

QUESTION: <the question>
ANSWER: <the answer, or INSTRUCTION: followed by step-by-step actions>
[SOURCE - "<source reference>"]

Use the provided source reference verbatim inside the SOURCE line. Base answers on the page instruction; use the document context only to resolve references to other pages.`

func faqUserPrompt(sourceRef, instruction, docContext string) string {
	return fmt.Sprintf("Source reference: %s\n\nPage instruction:\n---\n%s\n---\n\nDocument context:\n---\n%s\n---", sourceRef, instruction, docContext)
}

const generalDraftSystemPrompt = `You compile a general working instruction for bank staff from per-page pamphlet instructions. Merge the given pages into one coherent markdown instruction: deduplicate repeated material, keep every operational detail, and order sections the way an operator would use them. Replace mock or test values seen in examples (test accounts, sample client names, dummy amounts) with neutral placeholders such as <account number>.`

func generalDraftUserPrompt(batch string) string {
	return fmt.Sprintf("Per-page instructions:\n---\n%s\n---\n\nProduce the merged instruction for these pages.", batch)
}

const generalMergeSystemPrompt = `You merge partial drafts of a general working instruction into the final document. The drafts cover different page ranges of one pamphlet. Produce a single coherent markdown instruction with no duplicated sections and no lost operational detail.`

func generalMergeUserPrompt(drafts []string) string {
	out := "Partial drafts:\n"
	for i, d := range drafts {
		out += fmt.Sprintf("\n=== Draft %d ===\n%s\n", i+1, d)
	}
	return out + "\nProduce the final merged instruction."
}
