package prompt

// Variant ids in round-robin order. The first one is the default.
const (
	VariantStudioPortrait   = "studio_portrait"
	VariantNaturalLight     = "natural_light"
	VariantArchivalFaithful = "archival_faithful"
)

func baseTemplate() Document {
	return Document{
		"task": "portrait_restoration",
		"prompt": map[string]any{
			"subject": map[string]any{
				"type":                   "human_portrait",
				"identity_fidelity":      "match_uploaded_face_100_percent",
				"no_facial_modification": true,
				"expression":             "natural",
				"eye_detail":             "sharp_clear",
				"skin_texture":           "ultra_realistic",
				"hair_detail":            "natural_individual_strands",
				"fabric_detail":          "rich_high_frequency_detail",
			},
			"lighting": map[string]any{
				"exposure":            "bright_clear",
				"style":               "soft_studio_light",
				"brightness_balance":  "even",
				"specular_highlights": "natural_on_face_and_eyes",
				"shadow_transition":   "smooth_gradual",
			},
			"image_quality": map[string]any{
				"resolution":     "8k",
				"clarity":        "high",
				"noise":          "clean_low",
				"artifacts":      "none",
				"over_smoothing": "none",
			},
			"optics": map[string]any{
				"camera_style":   "full_frame_dslr",
				"lens":           "85mm",
				"aperture":       "f/1.8",
				"depth_of_field": "soft_shallow",
				"bokeh":          "smooth_natural",
			},
			"background": map[string]any{
				"style":            "clean_elegant",
				"distraction_free": true,
				"tone":             "neutral",
			},
			"color_grading": map[string]any{
				"style":         "cinematic",
				"saturation":    "rich_but_natural",
				"white_balance": "accurate",
				"skin_tone":     "natural_true_to_subject",
			},
			"style_constraints": map[string]any{
				"no_cartoon":        true,
				"no_beauty_filter":  true,
				"no_plastic_skin":   true,
				"no_face_reshaping": true,
				"no_ai_face_swap":   true,
			},
		},
		"negative_prompt": []any{
			"cartoon",
			"anime",
			"cgi",
			"painterly",
			"plastic skin",
			"over-smoothing",
			"over-sharpening halos",
			"heavy skin retouching",
			"face reshaping",
			"identity drift",
			"face swap",
			"beauty filter",
			"uncanny",
			"washed out",
			"color cast",
			"blown highlights",
			"crushed shadows",
			"banding",
			"jpeg artifacts",
			"extra fingers",
			"deformed eyes",
			"asymmetrical face",
			"warped features",
		},
		"parameters": map[string]any{
			"fidelity_priority":   "identity",
			"detail_priority":     "eyes_skin_hair_fabric",
			"realism_strength":    0.95,
			"sharpening":          "micro_contrast_only",
			"skin_retention":      "keep_pores_and_microtexture",
			"recommended_denoise": "low_to_medium",
		},
	}
}

func defaultVariants() []Variant {
	return []Variant{
		{ID: VariantStudioPortrait},
		{
			ID: VariantNaturalLight,
			Override: Document{
				"prompt": map[string]any{
					"lighting": map[string]any{
						"style":             "soft_window_daylight",
						"exposure":          "natural_balanced",
						"shadow_transition": "soft_directional",
					},
					"background": map[string]any{
						"style": "keep_original_scene_cleaned",
						"tone":  "warm_natural",
					},
					"color_grading": map[string]any{
						"style":      "true_to_life",
						"saturation": "natural",
					},
				},
			},
		},
		{
			ID: VariantArchivalFaithful,
			Override: Document{
				"prompt": map[string]any{
					"lighting": map[string]any{
						"style":    "preserve_original_lighting",
						"exposure": "recover_faded_tones",
					},
					"background": map[string]any{
						"style":            "preserve_original",
						"distraction_free": false,
					},
					"color_grading": map[string]any{
						"style":      "period_accurate",
						"saturation": "restrained",
					},
					"optics": map[string]any{
						"camera_style":   "match_original_camera",
						"depth_of_field": "match_original",
					},
				},
				"parameters": map[string]any{
					"realism_strength": 0.9,
					"sharpening":       "minimal",
				},
			},
		},
	}
}
