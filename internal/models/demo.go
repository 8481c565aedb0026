package models

import "time"

// DemoStoryID идентификатор демо-истории гостевой коллекции.
const DemoStoryID = "demo-story-001"

var demoCreatedAt = time.Date(2024, time.January, 1, 10, 0, 0, 0, time.UTC)

// DemoStory возвращает свежую копию демо-истории, которой засевается каждая гостевая коллекция.
func DemoStory() *Story {
	return &Story{
		ID:    DemoStoryID,
		Title: "Barnaby Bear and the Fallen Star",
		Pages: []Page{
			{
				Index:    1,
				Text:     "Barnaby was a curious little bear who lived in a sun-dappled forest. He loved honey, naps, and most of all, gazing at the twinkling stars each night.",
				ImageURL: "https://placehold.co/800x600/A0D2DB/333333?text=Barnaby+in+Forest&font=lora",
			},
			{
				Index:    2,
				Text:     "One evening, as the sky turned a deep velvet blue, Barnaby saw something amazing! A tiny, shimmering star tumbled down, landing with a soft plink in the nearby Whispering Woods.",
				ImageURL: "https://placehold.co/800x600/E0C3FC/5D3A9A?text=Falling+Star&font=lora",
			},
			{
				Index:    3,
				Text:     "With a gulp of courage and a map drawn on a leaf (mostly squiggles), Barnaby set off. 'I must help that little star get back home!' he thought.",
				ImageURL: "https://placehold.co/800x600/FFC0CB/333333?text=Barnaby+with+Map&font=lora",
			},
			{
				Index:    4,
				Text:     "He met a wise old owl who told him, 'The tallest tree on Blueberry Hill touches the sky. Perhaps the star can launch from there!'",
				ImageURL: "https://placehold.co/800x600/C1E1C1/3B5323?text=Wise+Owl&font=lora",
			},
			{
				Index:    5,
				Text:     "After a long climb, Barnaby and the little star reached the top. With a mighty heave from Barnaby and a joyful twinkle, the star zoomed back into the night sky, winking its thanks. Barnaby felt like the bravest bear in the world.",
				ImageURL: "https://placehold.co/800x600/89CFF0/2A52BE?text=Star+Returns&font=lora",
			},
		},
		CreatedAt:     demoCreatedAt,
		CoverImageURL: "https://placehold.co/300x200/A0D2DB/333333?text=Barnaby+Cover&font=lora",
		IsDemo:        true,
	}
}
