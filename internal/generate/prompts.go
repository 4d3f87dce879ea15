package generate

import "fmt"

// moduleSchema is the literal structure the module stage asks for.
const moduleSchema = `{
  "machineName": "Name of the machine on which the content is based",
  "modules": [
    {
      "id": "module index",
      "moduleName": "Name of the module",
      "estimatedTime": "estimated time in minutes to complete the module",
      "totalTopics": "total number of topics in the module",
      "shortModuleDescription": "short description of the module",
      "ModuleContent": [
        {
          "id": "ModuleContent index",
          "title": "Title of the topic",
          "titleDescription": "One liner description of the topic",
          "image": "image link which is given in the document",
          "video": "video link which is given in the document",
          "content": "This is the content of the module broken down into smaller parts, must have minimum 200 words"
        }
      ]
    }
  ]
}`

// assessmentSchema is the literal structure the assessment stage asks for.
const assessmentSchema = `{
  "assessment": {
    "moduleName": "module name",
    "estimatedTime": "estimated time in minutes to complete the assessment",
    "questions": [
      {
        "id": "questions index",
        "question": "Question",
        "difficulty": "easy/medium/hard",
        "info": "additional information about the answer, will use this when user has selected the correct answer, this will be shown as a info",
        "options": [
          {"id": "unique id", "option": "Option 1"},
          {"id": "unique id", "option": "Option 2"},
          {"id": "unique id", "option": "Option 3"},
          {"id": "unique id", "option": "Option 4"}
        ],
        "answer": "Correct option id"
      }
    ]
  }
}`

const (
	maxDraftModules   = 2
	maxWordsPerModule = 50
)

// draftPrompt asks for a short free-form module draft from the document text.
func draftPrompt(text string) string {
	return fmt.Sprintf(
		"Create %d training modules and also in training module give the image links from documents, "+
			"where each module should be at max %d words from this text %s",
		maxDraftModules, maxWordsPerModule, text)
}

// modulePrompt asks for the draft restructured into the module schema.
func modulePrompt(draft string) string {
	return fmt.Sprintf(
		"Convert the given content into JSON format. JSON format should be in the following structure: %s "+
			"Just return JSON and don't send any other message. Here is the text to convert in JSON: %s",
		moduleSchema, draft)
}

// assessmentPrompt asks for a multiple-choice assessment built from the
// same draft the modules came from.
func assessmentPrompt(draft string) string {
	return fmt.Sprintf(
		"Create an mcq assessment for each module in the given content. Every question must have exactly 4 options "+
			"with unique ids and an answer that is one of those ids. JSON format should be in the following structure: %s "+
			"Just return JSON and don't send any other message. Here is the text to convert in JSON: %s",
		assessmentSchema, draft)
}
