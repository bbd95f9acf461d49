package assistant

import "krishi/internal/taskclient"

// Task definitions are registered once per process by the runner and reused
// for every execution.
var (
	chatTask = taskclient.TaskDefinition{
		Name:        "krishi-chat",
		Description: "Answer a farmer's question conversationally.",
		Steps: []taskclient.Step{taskclient.PromptStep(
			"You are Krishi, a friendly agricultural assistant for small farmers in India. "+
				"Answer briefly and practically in {{1}}. If the question is not about farming, "+
				"politely steer back to farming.\n\nFarmer: {{0}}",
			"message", "language",
		)},
	}

	diseaseAdviceTask = taskclient.TaskDefinition{
		Name:        "krishi-disease-advice",
		Description: "Explain a diagnosed crop disease and how to treat it.",
		Steps: []taskclient.Step{taskclient.PromptStep(
			"A photo of a {{0}} leaf was classified as \"{{1}}\". Reply with only a JSON object "+
				"with keys disease (string), cause (string), symptoms (array of strings), "+
				"treatment (array of strings) and prevention (array of strings). "+
				"Prefer treatments available to smallholder farmers in India.",
			"cropName", "disease",
		)},
	}

	cropRecommendationTask = taskclient.TaskDefinition{
		Name:        "krishi-crop-recommendation",
		Description: "Recommend crops for a field given soil and weather.",
		Steps: []taskclient.Step{taskclient.PromptStep(
			"Recommend up to five crops for the field \"{{0}}\" ({{1}} acres, {{2}} soil) near {{3}}. "+
				"Current weather: {{4}}. Reply with only a JSON object: "+
				"{\"recommendedCrops\":[{\"name\":\"\",\"reason\":\"\",\"season\":\"\"}],\"notes\":\"\"}.",
			"fieldName", "areaAcres", "soilType", "place", "weather",
		)},
	}

	fertilizerTask = taskclient.TaskDefinition{
		Name:        "krishi-fertilizer",
		Description: "Compute a fertilizer plan from soil nutrient levels.",
		Steps: []taskclient.Step{taskclient.PromptStep(
			"Crop: {{0}}. Area: {{1}} acres. Soil type: {{2}}. Soil test (kg/ha): N={{3}}, P={{4}}, K={{5}}. "+
				"Recommend commercially available fertilizers with total quantities for the whole area. "+
				"Reply with only a JSON object: "+
				"{\"fertilizers\":[{\"name\":\"\",\"quantityKg\":0,\"timing\":\"\"}],\"notes\":\"\"}.",
			"cropName", "areaAcres", "soilType", "nitrogen", "phosphorus", "potassium",
		)},
	}
)

// Definitions lists every task the assistant uses.
func Definitions() []taskclient.TaskDefinition {
	return []taskclient.TaskDefinition{chatTask, diseaseAdviceTask, cropRecommendationTask, fertilizerTask}
}
